package entity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

const siteSlug = "site"

// Registry holds the entities of one controller and tracks which tags the
// host has enabled.
type Registry struct {
	src       Source
	namespace uuid.UUID
	prefix    string

	mu       sync.RWMutex
	entities map[string]*tagEntity
	order    []string
	disabled map[tags.ID]bool

	cleaning atomic.Bool
}

// NewRegistry returns an empty registry. controllerURL seeds the entity
// unique ids so they are stable across restarts. Tariff tags start disabled
// since enabling them costs extra requests; see Enable.
func NewRegistry(controllerURL string, src Source, namePrefix string) *Registry {
	r := &Registry{
		src:       src,
		namespace: uuid.NewSHA1(uuid.NameSpaceURL, []byte(controllerURL)),
		prefix:    namePrefix,
		entities:  map[string]*tagEntity{},
		disabled:  map[tags.ID]bool{},
	}
	for _, t := range tags.ByScope(tags.ScopeTariff) {
		r.disabled[t.ID] = true
	}
	return r
}

// Enable turns a tag on or off for every entity built from it.
func (r *Registry) Enable(id tags.ID, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, id)
	} else {
		r.disabled[id] = true
	}
}

// EnableTariffs enables the tariff tags whose endpoint key is listed.
func (r *Registry) EnableTariffs(keys []string) {
	for _, t := range tags.ByScope(tags.ScopeTariff) {
		if slices.Contains(keys, t.JSONKey) {
			r.Enable(t.ID, true)
		}
	}
}

// EnabledTags returns the enabled tags of a scope.
func (r *Registry) EnabledTags(scope tags.Scope) []tags.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tags.ID
	for _, t := range tags.ByScope(scope) {
		if !r.disabled[t.ID] {
			out = append(out, t.ID)
		}
	}
	return out
}

// Build replaces the entity set from the startup descriptors. Site,
// statistics and tariff entities exist once; loadpoint and vehicle entities
// exist per loadpoint.
func (r *Registry) Build(ctx context.Context, loadpoints []types.LoadpointDescriptor, vehicles []types.VehicleDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = map[string]*tagEntity{}
	r.order = r.order[:0]

	siteName := r.prefix
	for _, scope := range []tags.Scope{tags.ScopeSite, tags.ScopeStatistics, tags.ScopeTariff} {
		for _, t := range tags.ByScope(scope) {
			r.add(t, 0, siteSlug, join(siteName, t.Name))
		}
	}
	for _, lp := range loadpoints {
		for _, scope := range []tags.Scope{tags.ScopeLoadpoint, tags.ScopeVehicle} {
			for _, t := range tags.ByScope(scope) {
				if t.ID == tags.PhasesConfigured && !lp.SupportsPhaseSwitching {
					continue
				}
				r.add(t, lp.APIIndex, lp.Slug, join(lp.DisplayName, t.Name))
			}
		}
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"built entity registry",
		slog.Int("entities", len(r.order)),
		slog.Int("loadpoints", len(loadpoints)),
		slog.Int("vehicles", len(vehicles)),
	)
}

func (r *Registry) add(t tags.Tag, index int, slug, name string) {
	id := entityID(slug, t.ID)
	if _, ok := r.entities[id]; ok {
		return
	}
	e := &tagEntity{
		id:    id,
		tag:   t,
		index: index,
		src:   r.src,
		meta: Metadata{
			UniqueID: uuid.NewSHA1(r.namespace, []byte(id)).String(),
			Tag:      t.ID,
			Name:     name,
			Kind:     t.Kind.String(),
			Scope:    t.Scope.String(),
			Index:    index,
			Unit:     t.Unit,
			Options:  slices.Clone(t.EnumOptions),
			Writable: t.Writable(),
		},
	}
	r.entities[id] = e
	r.order = append(r.order, id)
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + " " + name
}

// Get returns the entity with the given id.
func (r *Registry) Get(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, false
	}
	return e, true
}

// All returns the enabled entities in build order.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entity, 0, len(r.order))
	for _, id := range r.order {
		e := r.entities[id]
		if r.disabled[e.tag.ID] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Cleanup removes entities of loadpoints the controller no longer reports.
// Only one cleanup runs at a time; a concurrent call returns false without
// doing anything.
func (r *Registry) Cleanup(ctx context.Context, snap types.Snapshot) (int, bool) {
	if !r.cleaning.CompareAndSwap(false, true) {
		return 0, false
	}
	defer r.cleaning.Store(false)

	if _, ok := snap.List("loadpoints"); !ok {
		// nothing to compare against
		return 0, true
	}
	count := snap.LoadpointCount()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	kept := r.order[:0]
	for _, id := range r.order {
		e := r.entities[id]
		if e.index > count {
			delete(r.entities, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept

	if removed > 0 {
		log.Ctx(ctx).InfoContext(ctx, "removed stale entities", slog.Int("removed", removed), slog.Int("loadpoints", count))
	}
	return removed, true
}
