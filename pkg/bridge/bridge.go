// Package bridge ties the transport, schema detection, resolver and write
// coordination together for one controller.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/evccbridge/pkg/drift"
	"github.com/raterudder/evccbridge/pkg/evcc"
	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/resolve"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

// Host receives updates from the bridge.
type Host interface {
	// SnapshotUpdated is called after every successful poll, stream message
	// and write with a copy of the current snapshot.
	SnapshotUpdated(ctx context.Context, snap types.Snapshot)
	// DescriptorsReady is called once per Start.
	DescriptorsReady(ctx context.Context, loadpoints []types.LoadpointDescriptor, vehicles []types.VehicleDescriptor)
}

// EntityProbe reports which tags the host has enabled.
type EntityProbe = drift.Probe

// Bridge is the engine for one controller.
type Bridge struct {
	host  Host
	probe EntityProbe

	cfg      Config
	client   *evcc.Client
	stream   *evcc.Stream
	resolver *resolve.Resolver

	mu         sync.RWMutex
	flags      types.SchemaFlags
	loadpoints []types.LoadpointDescriptor
	vehicles   []types.VehicleDescriptor
	lastPoll   time.Time
}

// New returns a configured Bridge. host and probe may be nil.
func New(cfg Config, host Host, probe EntityProbe) *Bridge {
	b := &Bridge{host: host, probe: probe}
	b.Configure(cfg)
	return b
}

// Attach sets the host and probe. It must be called before Start.
func (b *Bridge) Attach(host Host, probe EntityProbe) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.host = host
	b.probe = probe
}

// Configure (re)creates the transport for cfg. Schema flags and descriptors
// are only derived again by the next Start. It must not be called while Run
// is active.
func (b *Bridge) Configure(cfg Config) {
	cfg = cfg.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.cfg = cfg
	b.client = evcc.NewClient(cfg.Host, evcc.Options{
		Timeout:             cfg.RequestTimeout,
		FullRefreshInterval: cfg.FullRefreshInterval,
	})
	b.resolver = resolve.New(types.SchemaFlags{})
	b.stream = nil
	if cfg.UseStreaming {
		b.stream = evcc.NewStream(b.client, evcc.StreamOptions{
			StaleAfter:   cfg.StaleAfter,
			MaxReconnect: cfg.WatchdogInterval,
			OnUpdate:     b.notify,
		})
	}
}

// Start validates the controller with a full fetch, detects the schema and
// publishes the descriptors. A failing fetch returns a
// *types.ConfigurationError.
func (b *Bridge) Start(ctx context.Context) error {
	ctx = log.WithController(ctx, b.client.URL())

	snap, err := b.client.FetchFull(ctx)
	if err != nil {
		return &types.ConfigurationError{Host: b.cfg.Host, Err: err}
	}

	flags := drift.Detect(ctx, snap, b.probe)
	b.resolver.SetFlags(flags)
	if flags.TariffEnabled {
		keys := drift.TariffKeys(b.probe)
		b.client.SetTariffKeys(keys)
		snap = b.client.FetchTariffs(ctx, keys)
	}

	lps, vehicles := Descriptors(snap, b.cfg.Prefix())

	b.mu.Lock()
	b.flags = flags
	b.loadpoints = lps
	b.vehicles = vehicles
	b.lastPoll = time.Now()
	b.mu.Unlock()

	log.Ctx(ctx).InfoContext(
		ctx,
		"connected to controller",
		slog.String("version", flags.ControllerVersion),
		slog.Int("loadpoints", len(lps)),
		slog.Int("vehicles", len(vehicles)),
	)

	if b.host != nil {
		b.host.DescriptorsReady(ctx, lps, vehicles)
		b.host.SnapshotUpdated(ctx, snap)
	}

	if b.stream != nil {
		if err := b.stream.Connect(ctx); err != nil {
			// polling covers until the watchdog reconnects
			log.Ctx(ctx).WarnContext(ctx, "failed to connect stream", slog.Any("error", err))
		}
	}
	return nil
}

// OnPoll reads the controller once. Failures are logged and reported as no
// update; they never stop polling.
func (b *Bridge) OnPoll(ctx context.Context) (types.Snapshot, bool) {
	snap, err := b.client.Read(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "poll failed", slog.Any("error", err))
		return nil, false
	}

	b.mu.Lock()
	b.lastPoll = time.Now()
	b.mu.Unlock()

	if b.host != nil {
		b.host.SnapshotUpdated(ctx, snap)
	}
	return snap, true
}

func (b *Bridge) notify(ctx context.Context) {
	if b.host != nil {
		b.host.SnapshotUpdated(ctx, b.client.Snapshot())
	}
}

// Run polls every PollInterval until ctx is done. Polls are skipped while
// the stream is connected, and the stream watchdog runs alongside.
func (b *Bridge) Run(ctx context.Context) error {
	ctx = log.WithController(ctx, b.client.URL())

	var wg sync.WaitGroup
	if b.stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.stream.Watch(ctx, b.cfg.WatchdogInterval)
		}()
		defer b.stream.Close(context.WithoutCancel(ctx))
	}
	defer wg.Wait()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if b.stream != nil && b.stream.Connected() {
				log.Ctx(ctx).DebugContext(ctx, "skipping poll while stream is connected")
				continue
			}
			b.OnPoll(ctx)
		}
	}
}

// Resolve returns the current normalized value of a tag.
func (b *Bridge) Resolve(id tags.ID, index int) resolve.Value {
	var v resolve.Value
	b.client.View(func(snap types.Snapshot) {
		v = b.resolver.Resolve(snap, id, index)
	})
	return v
}

// ResolveRaw returns the unconverted value at a tag's location.
func (b *Bridge) ResolveRaw(id tags.ID, index int) resolve.Value {
	var v resolve.Value
	b.client.View(func(snap types.Snapshot) {
		v = b.resolver.ResolveRaw(snap, id, index)
	})
	return v
}

// Snapshot returns a copy of the current snapshot.
func (b *Bridge) Snapshot() types.Snapshot {
	return b.client.Snapshot()
}

// Flags returns the schema flags detected by Start.
func (b *Bridge) Flags() types.SchemaFlags {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.flags
}

// Loadpoints returns the loadpoint descriptors built by Start.
func (b *Bridge) Loadpoints() []types.LoadpointDescriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.LoadpointDescriptor(nil), b.loadpoints...)
}

// Vehicles returns the vehicle descriptors built by Start.
func (b *Bridge) Vehicles() []types.VehicleDescriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.VehicleDescriptor(nil), b.vehicles...)
}

// Healthy returns true if the controller answered recently or the stream is
// connected.
func (b *Bridge) Healthy() bool {
	if b.stream != nil && b.stream.Connected() {
		return true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.lastPoll.IsZero() && time.Since(b.lastPoll) < 3*b.cfg.PollInterval
}

// StreamState returns the stream link state, or an empty string when
// streaming is off.
func (b *Bridge) StreamState() string {
	if b.stream == nil {
		return ""
	}
	return b.stream.State()
}

// URL returns the controller base URL.
func (b *Bridge) URL() string {
	return b.client.URL()
}
