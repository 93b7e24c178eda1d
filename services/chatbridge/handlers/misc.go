// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
	"github.com/gin-gonic/gin"
)

// HandleHealthCheck reports service liveness.
func HandleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleListModels returns the models a client may request for a
// conversation. The first entry that matches DefaultModel is what the
// chat endpoint falls back to when neither the request nor the
// conversation names a model.
func HandleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  datatypes.AvailableModels,
		"default": datatypes.DefaultModel,
	})
}
