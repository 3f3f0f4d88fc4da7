package loadtest

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatwave/relay/internal/chat"
	"github.com/chatwave/relay/internal/presence"
	"github.com/chatwave/relay/internal/relay"
	"github.com/chatwave/relay/internal/ws"
)

func startRelay(t *testing.T) string {
	t.Helper()

	d := ws.NewMessageDispatcher(nil)
	srv := ws.NewServer(ws.DefaultServerConfig(), d.Dispatch)
	d.SetServer(srv)

	r := relay.NewRouter(presence.NewRegistry(nil), chat.NewStore(0), chat.NewPrivateStore(0), srv, relay.Options{})
	relay.RegisterHandlers(d, r)
	srv.SetOnDisconnect(relay.OnDisconnect(r))

	require.NoError(t, srv.Open())
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Shutdown()
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func TestBenchRun(t *testing.T) {
	url := startRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	col := NewCollector()
	err := Run(ctx, Config{URL: url, Users: 3, Messages: 5, Timeout: 5 * time.Second}, col)
	require.NoError(t, err)

	sum := col.Summary()
	require.Equal(t, 3, sum.Connections)
	require.Equal(t, 15, sum.Sent)
	require.Equal(t, 15, sum.Echoes)
	require.Zero(t, sum.Errors)
	require.Zero(t, sum.RateLimited)
	// Everyone who joined before a message was sent receives it; the first
	// messages may precede later joins.
	require.GreaterOrEqual(t, sum.Delivered, 15)
	require.LessOrEqual(t, sum.Delivered, 45)

	var buf bytes.Buffer
	col.Report(&buf)
	require.Contains(t, buf.String(), "Messages sent")
	require.Contains(t, buf.String(), "echo")
}

func TestRunRejectsNoUsers(t *testing.T) {
	require.Error(t, Run(context.Background(), Config{URL: "ws://127.0.0.1:1/ws"}, NewCollector()))
}

func TestPercentiles(t *testing.T) {
	require.Nil(t, percentiles("empty", nil))

	var samples []time.Duration
	for i := 100; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	row := percentiles("x", samples)
	require.Equal(t, []string{"x", "50.5ms", "51ms", "95ms", "99ms", "100ms", "100"}, row)
}
