// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderTree renders an assembled block tree, decoded from its JSON
// form, as an indented outline.
//
// Content nodes show the block name and type key with children grouped
// under their slot names; reference nodes show one line per reference
// with its resolution tag. Unknown shapes render as a muted placeholder
// rather than failing, so partial server responses stay inspectable.
func RenderTree(root map[string]any) string {
	var b strings.Builder
	renderNode(&b, root, "", true, true)
	return b.String()
}

// styled applies a style unless plain mode is on.
func styled(style lipgloss.Style, s string) string {
	if plain {
		return s
	}
	return style.Render(s)
}

func renderNode(b *strings.Builder, node map[string]any, prefix string, last, isRoot bool) {
	connector := "├─ "
	childPrefix := prefix + "│  "
	if last {
		connector = "└─ "
		childPrefix = prefix + "   "
	}
	if isRoot {
		connector = ""
		childPrefix = ""
	}

	block, _ := node["block"].(map[string]any)
	if block == nil {
		b.WriteString(prefix + connector + styled(Styles.Muted, "(unknown node)") + "\n")
		return
	}

	line := blockLine(block)
	if warnings, ok := node["warnings"].([]any); ok && len(warnings) > 0 {
		line += " " + styled(Styles.Warning, fmt.Sprintf("(%d warnings)", len(warnings)))
	}
	b.WriteString(prefix + connector + line + "\n")

	if refs, ok := node["references"].([]any); ok {
		for i, raw := range refs {
			ref, _ := raw.(map[string]any)
			if ref == nil {
				continue
			}
			renderReference(b, ref, childPrefix, i == len(refs)-1)
		}
		return
	}

	children, _ := node["children"].(map[string]any)
	slots := make([]string, 0, len(children))
	for slot := range children {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	for si, slot := range slots {
		lastSlot := si == len(slots)-1
		slotConnector, slotChildPrefix := "├─ ", childPrefix+"│  "
		if lastSlot {
			slotConnector, slotChildPrefix = "└─ ", childPrefix+"   "
		}
		b.WriteString(childPrefix + slotConnector + styled(Styles.Subtitle, slot) + "\n")

		nodes, _ := children[slot].([]any)
		for ni, raw := range nodes {
			child, _ := raw.(map[string]any)
			if child == nil {
				continue
			}
			renderNode(b, child, slotChildPrefix, ni == len(nodes)-1, false)
		}
	}
}

func blockLine(block map[string]any) string {
	name, _ := block["name"].(string)
	if name == "" {
		name, _ = block["id"].(string)
	}
	line := styled(Styles.Highlight, name)
	if typeKey, _ := block["typeKey"].(string); typeKey != "" {
		line += " " + styled(Styles.Muted, "("+typeKey+")")
	}
	if archived, _ := block["archived"].(bool); archived {
		line += " " + styled(Styles.Muted, "[archived]")
	}
	return line
}

func renderReference(b *strings.Builder, ref map[string]any, prefix string, last bool) {
	connector := "├─ "
	if last {
		connector = "└─ "
	}

	tag, _ := ref["tag"].(string)
	icon := IconSuccess
	switch tag {
	case "MISSING", "UNSUPPORTED":
		icon = IconWarning
	case "REQUIRES_LOADING":
		icon = IconArrow
	}

	entityType, _ := ref["entityType"].(string)
	entityID, _ := ref["entityId"].(string)
	line := fmt.Sprintf("%s %s %s", icon.Render(), entityType, entityID)

	if entity, ok := ref["entity"].(map[string]any); ok {
		if entityName, _ := entity["name"].(string); entityName != "" {
			line += " " + styled(Styles.Muted, "— "+entityName)
		}
	}
	if tag != "" && tag != "OK" {
		line += " " + styled(Styles.Warning, tag)
	}
	b.WriteString(prefix + connector + line + "\n")
}
