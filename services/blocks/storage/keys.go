// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"fmt"
	"strings"
)

// Key space. Ids are uuids and slot names are validated, so "/" is a safe
// separator everywhere except reference paths, which are always the final
// key segment.
const (
	prefixBlock        = "bl/"
	prefixBlockType    = "bt/"
	prefixTypeByKey    = "btk/"
	prefixChildEdge    = "ce/"
	prefixSlot         = "cs/"
	prefixRefEdge      = "re/"
	prefixLayout       = "ly/"
	prefixActivity     = "ac/"
)

func blockKey(id string) []byte {
	return []byte(prefixBlock + id)
}

func blockTypeKey(id string) []byte {
	return []byte(prefixBlockType + id)
}

// typeByKeyKey indexes type rows by (key, version). Versions are zero
// padded so lexicographic order is version order and the latest version
// is the last key under the prefix.
func typeByKeyKey(key string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", prefixTypeByKey, key, version))
}

func typeByKeyPrefix(key string) []byte {
	return []byte(prefixTypeByKey + key + "/")
}

func childEdgeKey(childID string) []byte {
	return []byte(prefixChildEdge + childID)
}

func slotKey(parentID, slot string) []byte {
	return []byte(prefixSlot + parentID + "/" + slot)
}

func slotPrefix(parentID string) []byte {
	return []byte(prefixSlot + parentID + "/")
}

func refEdgeKey(parentID, path string) []byte {
	return []byte(prefixRefEdge + parentID + "/" + path)
}

func refEdgePrefix(parentID, pathPrefix string) []byte {
	return []byte(prefixRefEdge + parentID + "/" + pathPrefix)
}

func layoutKey(id string) []byte {
	return []byte(prefixLayout + id)
}

func activityKey(blockID, stamp, id string) []byte {
	return []byte(prefixActivity + blockID + "/" + stamp + "/" + id)
}

func activityPrefix(blockID string) []byte {
	return []byte(prefixActivity + blockID + "/")
}

// validSlot rejects slot names that would break the key scheme.
func validSlot(slot string) bool {
	return slot != "" && !strings.Contains(slot, "/")
}
