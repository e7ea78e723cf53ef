// Package entity exposes tags as host-independent entities. Host adapters
// wrap an Entity per widget kind.
package entity

import (
	"context"
	"fmt"
	"slices"

	"github.com/raterudder/evccbridge/pkg/resolve"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

// Source is what entities read from and write to, normally a *bridge.Bridge.
type Source interface {
	Resolve(id tags.ID, index int) resolve.Value
	WriteField(ctx context.Context, id tags.ID, value any, index int) (types.WriteResult, error)
	Press(ctx context.Context, id tags.ID, index int) (types.WriteResult, error)
}

// Metadata describes an entity for the host.
type Metadata struct {
	UniqueID string   `json:"uniqueId"`
	Tag      tags.ID  `json:"tag"`
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Scope    string   `json:"scope"`
	Index    int      `json:"index,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Options  []string `json:"options,omitempty"`
	Writable bool     `json:"writable"`
}

// Entity is one tag at one loadpoint (or the site).
type Entity interface {
	ID() string
	CurrentValue() resolve.Value
	WriteValue(ctx context.Context, value any) (types.WriteResult, error)
	Metadata() Metadata
}

type tagEntity struct {
	id    string
	tag   tags.Tag
	index int
	src   Source
	meta  Metadata
}

func (e *tagEntity) ID() string {
	return e.id
}

func (e *tagEntity) CurrentValue() resolve.Value {
	if e.tag.Kind == tags.KindButton {
		return resolve.Absent
	}
	return e.src.Resolve(e.tag.ID, e.index)
}

// WriteValue writes value, or presses the button for button entities in
// which case value is ignored.
func (e *tagEntity) WriteValue(ctx context.Context, value any) (types.WriteResult, error) {
	if e.tag.Kind == tags.KindButton {
		return e.src.Press(ctx, e.tag.ID, e.index)
	}
	if !e.tag.Writable() {
		return types.WriteResult{}, fmt.Errorf("%s: %w", e.tag.ID, types.ErrNotWritable)
	}
	return e.src.WriteField(ctx, e.tag.ID, value, e.index)
}

func (e *tagEntity) Metadata() Metadata {
	md := e.meta
	md.Options = slices.Clone(md.Options)
	return md
}

// entityID is the readable id, e.g. "site.pvPower" or "garage.chargePower".
func entityID(prefix string, id tags.ID) string {
	return prefix + "." + string(id)
}
