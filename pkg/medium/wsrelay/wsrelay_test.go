package wsrelay

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) string {
	t.Helper()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	srv := httptest.NewServer(NewHub(handler))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Medium {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestRelayFanOut(t *testing.T) {
	url := startHub(t)
	a := dial(t, url)
	b := dial(t, url)
	c := dial(t, url)

	require.NoError(t, a.Broadcast([]byte("hello")))

	for _, m := range []*Medium{b, c} {
		select {
		case frame := <-m.FrameCh():
			require.Equal(t, []byte("hello"), frame)
		case <-time.After(5 * time.Second):
			t.Fatal("relayed frame never arrived")
		}
	}

	// The hub never echoes a frame back to its sender.
	select {
	case <-a.FrameCh():
		t.Fatal("sender received its own frame")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayPeerDeparture(t *testing.T) {
	url := startHub(t)
	a := dial(t, url)
	b := dial(t, url)

	require.NoError(t, b.Close())

	// The hub notices the departure; broadcasting must keep working.
	require.Eventually(t, func() bool {
		return a.Broadcast([]byte("still here")) == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDialBadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/", nil)
	require.Error(t, err)
}

func TestCloseEndsFrameCh(t *testing.T) {
	url := startHub(t)
	a := dial(t, url)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "closing twice is fine")

	select {
	case _, ok := <-a.FrameCh():
		require.False(t, ok, "the frame channel closes with the connection")
	case <-time.After(5 * time.Second):
		t.Fatal("frame channel never closed")
	}
}
