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

import (
	"errors"
	"time"
)

// EntityTypeBlock is the entity type of blocks themselves. Single-link
// references must point at it; list references must not.
const EntityTypeBlock = "block"

// Default reference paths. Path encodes position for list rows, so the
// prefix is part of the persisted key space.
const (
	DefaultListPathPrefix = "$.items"
	DefaultLinkPath       = "$.link"
)

// ErrMixedPayload is returned when a Payload carries data for more than
// one kind, or data that does not match its declared kind.
var ErrMixedPayload = errors.New("payload arms do not match declared kind")

// PayloadKind discriminates the block payload union.
type PayloadKind int

const (
	// KindContent is a content payload: schema-validated data plus meta.
	KindContent PayloadKind = iota

	// KindReferenceList is a list of external entity references.
	KindReferenceList

	// KindReferenceLink is a single link to another block tree.
	KindReferenceLink
)

// payloadKindNames maps PayloadKind values to wire representations.
var payloadKindNames = map[PayloadKind]string{
	KindContent:       "content",
	KindReferenceList: "referenceList",
	KindReferenceLink: "referenceLink",
}

// String returns the string representation of the PayloadKind.
func (k PayloadKind) String() string {
	if name, ok := payloadKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k PayloadKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PayloadKind) UnmarshalText(b []byte) error {
	for kind, name := range payloadKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return errors.New("unknown payload kind: " + string(b))
}

// FetchPolicy controls whether references resolve to full entity data on
// read (eager) or stay identity pointers for later resolution (lazy).
type FetchPolicy int

const (
	// FetchEager resolves references through the registered resolver
	// during tree assembly.
	FetchEager FetchPolicy = iota

	// FetchLazy returns identity-only references tagged REQUIRES_LOADING.
	FetchLazy
)

// String returns the string representation of the FetchPolicy.
func (p FetchPolicy) String() string {
	if p == FetchLazy {
		return "LAZY"
	}
	return "EAGER"
}

// MarshalText implements encoding.TextMarshaler.
func (p FetchPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *FetchPolicy) UnmarshalText(b []byte) error {
	if string(b) == "LAZY" {
		*p = FetchLazy
	} else {
		*p = FetchEager
	}
	return nil
}

// ContentPayload holds schema-validated free-form data plus opaque meta.
type ContentPayload struct {
	Data map[string]any `json:"data,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// ReferenceListPayload describes a list of references to external
// entities of a single type.
type ReferenceListPayload struct {
	// EntityType names the referenced entity type ("client", "asset", ...).
	// It must not be EntityTypeBlock; block nesting uses child edges.
	EntityType string `json:"entityType"`

	// Items are entity ids in display order. Position is persisted in the
	// row path ($.items[i]).
	Items []string `json:"items"`

	// PathPrefix is the positional pointer prefix. Empty means
	// DefaultListPathPrefix.
	PathPrefix string `json:"pathPrefix,omitempty"`

	FetchPolicy FetchPolicy `json:"fetchPolicy"`

	// AllowDuplicates permits the same entity id to appear twice.
	AllowDuplicates bool `json:"allowDuplicates,omitempty"`
}

// Prefix returns the effective positional path prefix.
func (p *ReferenceListPayload) Prefix() string {
	if p.PathPrefix != "" {
		return p.PathPrefix
	}
	return DefaultListPathPrefix
}

// ReferenceLinkPayload describes a single link to another block tree.
type ReferenceLinkPayload struct {
	// EntityType must be EntityTypeBlock.
	EntityType string `json:"entityType"`

	// TargetID is the linked block id.
	TargetID string `json:"targetId"`

	// Path is the link's location. Empty means DefaultLinkPath. At most
	// one reference row may exist per (block, path).
	Path string `json:"path,omitempty"`

	FetchPolicy FetchPolicy `json:"fetchPolicy"`
}

// LinkPath returns the effective link path.
func (p *ReferenceLinkPayload) LinkPath() string {
	if p.Path != "" {
		return p.Path
	}
	return DefaultLinkPath
}

// Payload is the closed tagged union of block payload kinds.
//
// Exactly one arm matching Kind must be set; Check enforces this. The
// kind is fixed at block creation and an update with a different kind is
// rejected by the block service.
type Payload struct {
	Kind    PayloadKind           `json:"kind"`
	Content *ContentPayload       `json:"content,omitempty"`
	List    *ReferenceListPayload `json:"list,omitempty"`
	Link    *ReferenceLinkPayload `json:"link,omitempty"`
}

// NewContentPayload builds a content payload.
func NewContentPayload(data, meta map[string]any) Payload {
	return Payload{Kind: KindContent, Content: &ContentPayload{Data: data, Meta: meta}}
}

// NewReferenceListPayload builds a reference list payload.
func NewReferenceListPayload(list ReferenceListPayload) Payload {
	return Payload{Kind: KindReferenceList, List: &list}
}

// NewReferenceLinkPayload builds a single block link payload.
func NewReferenceLinkPayload(link ReferenceLinkPayload) Payload {
	return Payload{Kind: KindReferenceLink, Link: &link}
}

// Check verifies that exactly the arm matching Kind is populated.
func (p *Payload) Check() error {
	switch p.Kind {
	case KindContent:
		if p.Content == nil || p.List != nil || p.Link != nil {
			return ErrMixedPayload
		}
	case KindReferenceList:
		if p.List == nil || p.Content != nil || p.Link != nil {
			return ErrMixedPayload
		}
	case KindReferenceLink:
		if p.Link == nil || p.Content != nil || p.List != nil {
			return ErrMixedPayload
		}
	default:
		return ErrMixedPayload
	}
	return nil
}

// IsReference reports whether the payload is one of the reference kinds.
func (p *Payload) IsReference() bool {
	return p.Kind == KindReferenceList || p.Kind == KindReferenceLink
}

// Block is the core content unit composed into trees.
type Block struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`
	Name  string `json:"name"`

	// TypeID pins the block to one specific BlockType version row.
	TypeID string `json:"typeId"`

	// TypeKey mirrors the type's key for nesting checks without a type
	// lookup per child.
	TypeKey string `json:"typeKey"`

	Payload Payload `json:"payload"`

	// Warnings holds soft schema violations recorded at the last write.
	Warnings []string `json:"warnings,omitempty"`

	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
