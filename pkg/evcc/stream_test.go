package evcc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/evccbridge/pkg/types"
)

type fakeStream struct {
	upgrader websocket.Upgrader
	conns    atomic.Int32
	messages []string
}

func (f *fakeStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws" {
		http.NotFound(w, r)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	f.conns.Add(1)
	for _, m := range f.messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			return
		}
	}
	// hold the connection until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestStreamMerge(t *testing.T) {
	fs := &fakeStream{messages: []string{
		`{"pvPower":1234}`,
		`{"loadpoints.0.chargePower":7000,"loadpoints.0.charging":true}`,
		`{"loadpoints.5.chargePower":1}`,
		`not json`,
	}}
	server := httptest.NewServer(fs)
	defer server.Close()

	c := NewClient(server.URL, Options{})
	c.Patch(func(s types.Snapshot) {
		s["pvPower"] = 0.0
		s["loadpoints"] = []any{map[string]any{"chargePower": 0.0}}
	})

	var updates atomic.Int32
	s := NewStream(c, StreamOptions{OnUpdate: func(context.Context) { updates.Add(1) }})
	ctx, cancel := context.WithCancel(t.Context())
	defer func() {
		cancel()
		s.Close(t.Context())
	}()

	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.Connected())

	require.Eventually(t, func() bool { return updates.Load() == 3 }, 5*time.Second, 10*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, 1234.0, snap["pvPower"])
	lp, ok := snap.Loadpoint(1)
	require.True(t, ok)
	assert.Equal(t, 7000.0, lp["chargePower"])
	assert.Equal(t, true, lp["charging"])
	assert.Equal(t, 1, snap.LoadpointCount(), "out of range indexes never grow the list")
}

func TestStreamCheck(t *testing.T) {
	t.Run("no overlap while connecting", func(t *testing.T) {
		c := NewClient("127.0.0.1:1", Options{})
		s := NewStream(c, StreamOptions{})

		// pretend a reconnection is already in flight
		require.NoError(t, s.link.Event(t.Context(), eventDial))
		s.Check(t.Context())
		s.Check(t.Context())
		assert.Equal(t, LinkConnecting, s.State())

		err := s.Connect(t.Context())
		require.Error(t, err, "a second dial is refused")
		s.dialWait.Wait()
	})

	t.Run("reconnects stale stream", func(t *testing.T) {
		fs := &fakeStream{}
		server := httptest.NewServer(fs)
		defer server.Close()

		var offset atomic.Int64
		c := NewClient(server.URL, Options{})
		s := NewStream(c, StreamOptions{StaleAfter: time.Minute})
		s.now = func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }

		ctx, cancel := context.WithCancel(t.Context())
		defer func() {
			cancel()
			s.Close(t.Context())
		}()

		require.NoError(t, s.Connect(ctx))
		s.Check(ctx)
		assert.Equal(t, int32(1), fs.conns.Load(), "fresh stream is left alone")

		offset.Store(int64(2 * time.Minute))
		s.Check(ctx)
		require.Eventually(t, func() bool {
			return s.Connected() && fs.conns.Load() == 2
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("reconnects after drop", func(t *testing.T) {
		fs := &fakeStream{}
		server := httptest.NewServer(fs)
		defer server.Close()

		c := NewClient(server.URL, Options{})
		s := NewStream(c, StreamOptions{})
		ctx, cancel := context.WithCancel(t.Context())
		defer func() {
			cancel()
			s.Close(t.Context())
		}()

		require.NoError(t, s.Connect(ctx))
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		s.drop(ctx, conn, assert.AnError)
		assert.Equal(t, LinkDisconnected, s.State())

		s.Check(ctx)
		require.Eventually(t, s.Connected, 5*time.Second, 10*time.Millisecond)
	})
}
