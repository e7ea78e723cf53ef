package evcc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

// SetTariffKeys enables the tariff sub-fetch on every full fetch. An empty
// list disables it.
func (c *Client) SetTariffKeys(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tariffKeys = append([]string(nil), keys...)
}

// FetchTariffs fetches each tariff key and stores the results in the tariff
// namespace of the retained snapshot. Per-key failures are logged and
// skipped.
func (c *Client) FetchTariffs(ctx context.Context, keys []string) types.Snapshot {
	fetched := types.Snapshot{}
	c.fetchTariffsInto(ctx, fetched, keys)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		c.snapshot = types.Snapshot{}
	}
	if ns, ok := fetched.Map(tags.TariffNamespace); ok {
		existing, _ := c.snapshot.Map(tags.TariffNamespace)
		if existing == nil {
			existing = map[string]any{}
			c.snapshot[tags.TariffNamespace] = existing
		}
		for k, v := range ns {
			existing[k] = v
		}
	}
	return c.snapshot.Clone()
}

func (c *Client) fetchTariffsInto(ctx context.Context, snap types.Snapshot, keys []string) {
	ns, _ := snap.Map(tags.TariffNamespace)
	if ns == nil {
		ns = map[string]any{}
	}
	for _, key := range keys {
		v, _, err := c.getJSON(ctx, []string{"tariff", key}, nil)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch tariff", slog.String("tariff", key), slog.Any("error", err))
			continue
		}
		ns[key] = v
	}
	if len(ns) > 0 {
		snap[tags.TariffNamespace] = ns
	}
}

// FormatValue renders a write value as a path segment. Booleans are
// lowercase and numbers use the shortest representation.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
