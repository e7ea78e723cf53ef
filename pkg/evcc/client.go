package evcc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/raterudder/evccbridge/pkg/common"
	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/types"
)

// DefaultFullRefreshInterval bounds how stale rarely-changing fields can get
// between full fetches.
const DefaultFullRefreshInterval = 5 * time.Minute

// DefaultDeltaKeys are the top-level keys that change between full fetches
// and are requested on delta polls.
var DefaultDeltaKeys = []string{
	"loadpoints",
	"vehicles",
	"grid",
	"gridPower",
	"gridCurrents",
	"gridEnergy",
	"gridPowers",
	"pvPower",
	"pvEnergy",
	"homePower",
	"auxPower",
	"batteryPower",
	"batterySoc",
	"batteryMode",
	"greenShareHome",
	"tariffGrid",
	"tariffFeedIn",
	"tariffCo2",
	"tariffPriceHome",
}

// Options configures a Client. Zero values are replaced with defaults.
type Options struct {
	Timeout             time.Duration
	FullRefreshInterval time.Duration
	DeltaKeys           []string
	HTTPClient          *http.Client
}

// Client talks to the controller's HTTP API and retains the last known
// snapshot. Failures never empty the retained snapshot.
type Client struct {
	client              *http.Client
	baseURL             string
	fullRefreshInterval time.Duration
	deltaKeys           []string

	mu            sync.Mutex
	snapshot      types.Snapshot
	lastFull      time.Time
	tariffKeys    []string
	jqUnsupported bool
	now           func() time.Time
}

// NewClient returns a Client for the controller at host. The host may be a
// bare host:port or a full base URL.
func NewClient(host string, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.FullRefreshInterval == 0 {
		opts.FullRefreshInterval = DefaultFullRefreshInterval
	}
	if len(opts.DeltaKeys) == 0 {
		opts.DeltaKeys = DefaultDeltaKeys
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = common.HTTPClient(opts.Timeout)
	}
	return &Client{
		client:              opts.HTTPClient,
		baseURL:             BaseURL(host),
		fullRefreshInterval: opts.FullRefreshInterval,
		deltaKeys:           opts.DeltaKeys,
		now:                 time.Now,
	}
}

// BaseURL normalizes a configured host into a base URL.
func BaseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host
}

// URL returns the controller base URL.
func (c *Client) URL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method string, segments []string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u = u.JoinPath(append([]string{"api"}, segments...)...)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return http.NewRequestWithContext(ctx, method, u.String(), nil)
}

// do sends the request and returns the raw body. Non-2xx answers are
// returned along with their body so writes can inspect them.
func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, &types.TransportError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &types.TransportError{Op: req.Method, URL: req.URL.String(), StatusCode: resp.StatusCode, Err: err}
	}
	return body, resp.StatusCode, nil
}

// getJSON performs a GET and decodes the body, unwrapping an optional result
// envelope.
func (c *Client) getJSON(ctx context.Context, segments []string, params url.Values) (any, int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, segments, params)
	if err != nil {
		return nil, 0, err
	}
	body, status, err := c.do(req)
	if err != nil {
		return nil, status, err
	}
	if status != http.StatusOK {
		return nil, status, &types.TransportError{Op: req.Method, URL: req.URL.String(), StatusCode: status}
	}

	var v any
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&v); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode controller response", slog.Any("error", err), slog.String("body", truncate(body)))
		return nil, status, &types.DecodeError{URL: req.URL.String(), Body: string(body), Err: err}
	}
	return unwrapResult(v), status, nil
}

// unwrapResult strips a {"result": ...} envelope when it's the only key.
func unwrapResult(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	if r, ok := m["result"]; ok {
		return r
	}
	return v
}

func (c *Client) fetchState(ctx context.Context, params url.Values) (types.Snapshot, int, error) {
	v, status, err := c.getJSON(ctx, []string{"state"}, params)
	if err != nil {
		return nil, status, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, status, &types.DecodeError{URL: c.baseURL + "/api/state", Err: fmt.Errorf("expected object, got %T", v)}
	}
	return types.Snapshot(m), status, nil
}

// FetchFull fetches the whole state and replaces the retained snapshot. When
// tariff keys are set the tariff namespace is populated before returning. On
// error the retained snapshot is untouched.
func (c *Client) FetchFull(ctx context.Context) (types.Snapshot, error) {
	log.Ctx(ctx).DebugContext(ctx, "fetching full controller state")
	snap, _, err := c.fetchState(ctx, nil)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "full state fetch failed", slog.Any("error", err))
		return nil, err
	}

	c.mu.Lock()
	keys := append([]string(nil), c.tariffKeys...)
	c.mu.Unlock()
	if len(keys) > 0 {
		c.fetchTariffsInto(ctx, snap, keys)
	}

	c.mu.Lock()
	c.snapshot = snap
	c.lastFull = c.now()
	out := c.snapshot.Clone()
	c.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "fetched full controller state", slog.Int("keys", len(snap)), slog.Int("loadpoints", snap.LoadpointCount()))
	return out, nil
}

// deltaQuery builds a jq projection over the delta keys, e.g.
// {pvPower:.pvPower,loadpoints:.loadpoints}.
func (c *Client) deltaQuery() string {
	parts := make([]string, len(c.deltaKeys))
	for i, k := range c.deltaKeys {
		parts[i] = k + ":." + k
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// FetchDelta fetches the reduced key set and merges it into the retained
// snapshot. Keys the controller didn't send keep their previous values.
func (c *Client) FetchDelta(ctx context.Context) (types.Snapshot, error) {
	c.mu.Lock()
	useJQ := !c.jqUnsupported
	c.mu.Unlock()

	var params url.Values
	if useJQ {
		params = url.Values{"jq": {c.deltaQuery()}}
	}
	snap, status, err := c.fetchState(ctx, params)
	if err != nil && useJQ && status == http.StatusBadRequest {
		// older controllers don't understand jq, filter on our side instead
		log.Ctx(ctx).InfoContext(ctx, "controller rejected jq projection, falling back to client-side filtering")
		c.mu.Lock()
		c.jqUnsupported = true
		c.mu.Unlock()
		snap, _, err = c.fetchState(ctx, nil)
	}
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "delta state fetch failed", slog.Any("error", err))
		return nil, err
	}

	delta := make(types.Snapshot, len(c.deltaKeys))
	for _, k := range c.deltaKeys {
		if v, ok := snap[k]; ok && v != nil {
			delta[k] = v
		}
	}

	c.mu.Lock()
	if c.snapshot == nil {
		c.snapshot = types.Snapshot{}
	}
	c.snapshot.Merge(delta)
	c.mu.Unlock()

	return delta.Clone(), nil
}

// Read does a full fetch when the last one is older than the full refresh
// interval and a delta fetch otherwise. It returns a copy of the merged
// snapshot.
func (c *Client) Read(ctx context.Context) (types.Snapshot, error) {
	c.mu.Lock()
	needFull := c.lastFull.IsZero() || c.now().Sub(c.lastFull) > c.fullRefreshInterval
	c.mu.Unlock()

	var err error
	if needFull {
		_, err = c.FetchFull(ctx)
	} else {
		_, err = c.FetchDelta(ctx)
	}
	if err != nil {
		return nil, err
	}
	return c.Snapshot(), nil
}

// Write sends a single-field write. A nil value issues a DELETE on the path,
// anything else is appended as the last path segment and POSTed. Segments
// are used as escaped path elements; callers escape user-provided names.
// A controller answer without a result envelope is returned as a Rejected
// result together with the same *types.WriteRejected error.
func (c *Client) Write(ctx context.Context, segments []string, value any) (types.WriteResult, error) {
	if value == nil {
		return c.Trigger(ctx, http.MethodDelete, segments)
	}
	segs := append(append([]string(nil), segments...), url.PathEscape(FormatValue(value)))
	return c.Trigger(ctx, http.MethodPost, segs)
}

// Trigger sends a body-less request with an explicit method.
func (c *Client) Trigger(ctx context.Context, method string, segments []string) (types.WriteResult, error) {
	req, err := c.newRequest(ctx, method, segments, nil)
	if err != nil {
		return types.WriteResult{}, err
	}
	log.Ctx(ctx).InfoContext(ctx, "writing controller field", slog.String("method", method), slog.String("path", req.URL.Path))

	body, status, err := c.do(req)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "controller write failed", slog.Any("error", err))
		return types.WriteResult{}, err
	}

	var env map[string]json.RawMessage
	if status >= 200 && status < 300 && json.Unmarshal(body, &env) == nil {
		if raw, ok := env["result"]; ok {
			var result any
			if err := json.Unmarshal(raw, &result); err != nil {
				return types.WriteResult{}, &types.DecodeError{URL: req.URL.String(), Body: string(body), Err: err}
			}
			// the write may have shifted more than the touched field
			c.ForceFullRefresh()
			return types.WriteResult{Applied: true, Result: result}, nil
		}
	}

	rejected := &types.WriteRejected{StatusCode: status, Body: string(body)}
	log.Ctx(ctx).WarnContext(ctx, "controller rejected write", slog.Int("status", status), slog.String("body", truncate(body)))
	return types.WriteResult{Rejected: rejected}, rejected
}

// Merge merges a partial snapshot into the retained one with delta
// semantics.
func (c *Client) Merge(delta types.Snapshot) {
	c.Patch(func(s types.Snapshot) {
		s.Merge(delta)
	})
}

// ForceFullRefresh makes the next Read do a full fetch.
func (c *Client) ForceFullRefresh() {
	c.mu.Lock()
	c.lastFull = time.Time{}
	c.mu.Unlock()
}

// lastFullFetch returns when the last full fetch succeeded.
func (c *Client) lastFullFetch() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFull
}

// Snapshot returns a copy of the retained snapshot.
func (c *Client) Snapshot() types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// View calls fn with the retained snapshot under the lock. fn must not keep
// references to it.
func (c *Client) View(fn func(types.Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.snapshot)
}

// Patch calls fn with the retained snapshot under the lock so it can be
// mutated in place.
func (c *Client) Patch(fn func(types.Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		c.snapshot = types.Snapshot{}
	}
	fn(c.snapshot)
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
