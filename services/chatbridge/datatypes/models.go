// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// DefaultModel is used when neither the request nor the conversation
// selects a model.
const DefaultModel = "gpt-4.1-nano"

// AvailableModels lists the completion models the service will accept.
var AvailableModels = []string{
	"gpt-4o",
	"gpt-4.1-nano",
	"gpt-4.1-mini",
}

// IsValidModel reports whether model is in AvailableModels.
func IsValidModel(model string) bool {
	for _, m := range AvailableModels {
		if m == model {
			return true
		}
	}
	return false
}
