// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

// DeepMerge merges src into dst recursively and returns the result.
//
// # Description
//
// Overlapping keys whose values are both maps are merged key-wise.
// Every other overlapping key (scalars, arrays, mixed types) is replaced
// by the src value. Non-overlapping keys from both sides are kept.
// Neither input map is mutated.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil && src == nil {
		return nil
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		sv, svOK := v.(map[string]any)
		dv, dvOK := out[k].(map[string]any)
		if svOK && dvOK {
			out[k] = DeepMerge(dv, sv)
			continue
		}
		out[k] = v
	}
	return out
}
