package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/resolve"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

// writePath returns the endpoint segments of a tag. ok is false for vehicle
// tags while no vehicle is connected.
func (b *Bridge) writePath(t tags.Tag, index int) ([]string, bool, error) {
	scope := t.EffectiveWriteScope()
	if scope.Indexed() && index < 1 {
		return nil, false, fmt.Errorf("%s: %w", t.ID, types.ErrMissingIndex)
	}

	switch scope {
	case tags.ScopeSite:
		return []string{t.WriteKey}, true, nil

	case tags.ScopeLoadpoint:
		return []string{"loadpoints", strconv.Itoa(index), t.WriteKey}, true, nil

	case tags.ScopeVehicle:
		var key string
		var ok bool
		b.client.View(func(snap types.Snapshot) {
			key, ok = resolve.VehicleKey(snap, index)
		})
		if !ok {
			return nil, false, nil
		}
		return []string{"vehicles", url.PathEscape(key), t.WriteKey}, true, nil
	}
	return nil, false, fmt.Errorf("%s: %w", t.ID, types.ErrNotWritable)
}

// WriteField writes value to the tag's endpoint, nil clears it. On success
// the snapshot is patched where the resolver reads the tag from, so an
// immediate Resolve returns value. Vehicle tags aren't patched and are a
// no-op returning an Absent result while no vehicle is connected.
func (b *Bridge) WriteField(ctx context.Context, id tags.ID, value any, index int) (types.WriteResult, error) {
	t, ok := tags.Find(id)
	if !ok {
		return types.WriteResult{}, fmt.Errorf("%s: %w", id, types.ErrUnknownTag)
	}
	return b.write(ctx, t, value, index)
}

func (b *Bridge) write(ctx context.Context, t tags.Tag, value any, index int) (types.WriteResult, error) {
	if !t.Writable() {
		return types.WriteResult{}, fmt.Errorf("%s: %w", t.ID, types.ErrNotWritable)
	}

	segs, ok, err := b.writePath(t, index)
	if err != nil {
		return types.WriteResult{}, err
	}
	if !ok {
		log.Ctx(ctx).DebugContext(ctx, "no vehicle connected, skipping write", slog.String("tag", string(t.ID)), slog.Int("loadpoint", index))
		return types.WriteResult{Absent: true}, nil
	}

	res, err := b.client.Write(ctx, segs, value)
	if err != nil {
		return res, err
	}

	if t.JSONKey != "" {
		b.patch(t, index, value)
	}
	b.notify(ctx)
	return res, nil
}

// patch sets value where the resolver reads t from, which is decided by the
// read scope even when writes go elsewhere.
func (b *Bridge) patch(t tags.Tag, index int, value any) {
	if t.Scope != tags.ScopeSite && t.Scope != tags.ScopeLoadpoint {
		return
	}
	nested := b.resolver.Flags().GridNested
	b.client.Patch(func(snap types.Snapshot) {
		switch t.Scope {
		case tags.ScopeSite:
			switch {
			case t.Container != "" && nested:
				snap.SetPath([]string{t.Container, t.JSONKey}, value)
			case t.Container != "":
				snap[t.LegacyKey] = value
			default:
				snap[t.JSONKey] = value
			}
		case tags.ScopeLoadpoint:
			if index < 1 {
				return
			}
			snap.SetPath([]string{"loadpoints", strconv.Itoa(index - 1), t.JSONKey}, value)
		}
	})
}

// Press triggers a button tag. No body is sent; the method is DELETE unless
// the tag declares another one.
func (b *Bridge) Press(ctx context.Context, id tags.ID, index int) (types.WriteResult, error) {
	t, ok := tags.Find(id)
	if !ok {
		return types.WriteResult{}, fmt.Errorf("%s: %w", id, types.ErrUnknownTag)
	}
	if t.Kind != tags.KindButton || !t.Writable() {
		return types.WriteResult{}, fmt.Errorf("%s: %w", id, types.ErrNotWritable)
	}

	segs, ok, err := b.writePath(t, index)
	if err != nil {
		return types.WriteResult{}, err
	}
	if !ok {
		log.Ctx(ctx).DebugContext(ctx, "no vehicle connected, skipping button", slog.String("tag", string(id)), slog.Int("loadpoint", index))
		return types.WriteResult{Absent: true}, nil
	}

	var res types.WriteResult
	if t.Method() == http.MethodDelete {
		res, err = b.client.Write(ctx, segs, nil)
	} else {
		res, err = b.client.Trigger(ctx, t.Method(), segs)
	}
	if err != nil {
		return res, err
	}
	b.notify(ctx)
	return res, nil
}

// OnWrite is WriteField for hosts that only display results. Errors are
// logged; rejections stay visible in the result.
func (b *Bridge) OnWrite(ctx context.Context, id tags.ID, value any, index int) types.WriteResult {
	res, err := b.WriteField(ctx, id, value, index)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "write failed", slog.String("tag", string(id)), slog.Int("index", index), slog.Any("error", err))
	}
	return res
}

// OnButtonPress is Press for hosts that only display results.
func (b *Bridge) OnButtonPress(ctx context.Context, id tags.ID, index int) types.WriteResult {
	res, err := b.Press(ctx, id, index)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "button press failed", slog.String("tag", string(id)), slog.Int("index", index), slog.Any("error", err))
	}
	return res
}
