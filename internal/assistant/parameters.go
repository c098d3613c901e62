// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

// =============================================================================
// GENERATION PARAMETERS
// =============================================================================

// Parameters holds the generation settings for the assistant. Model is
// empty until a model has been pulled or selected.
type Parameters struct {
	Model       string
	Temperature float64 // 0.0 - 1.0
	TopK        int     // 0 - 100
	TopP        float64 // 0.0 - 1.0
	Seed        int
}

// DefaultParameters returns the default generation settings.
func DefaultParameters() Parameters {
	return Parameters{
		Temperature: 0.5,
		TopK:        40,
		TopP:        0.9,
		Seed:        42,
	}
}

// clampFloat bounds v to [lo, hi].
func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampInt bounds v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
