package wsrelay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/meshnet-io/mnet"
)

var _ mnet.Medium = (*Medium)(nil)

// Medium is the client side: one attachment to a relay hub.
type Medium struct {
	conn    *websocket.Conn
	frameCh chan []byte
	logger  *slog.Logger
	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial connects to a relay hub, e.g. "ws://relay.example.org:8473/".
func Dial(ctx context.Context, url string, logHandler slog.Handler) (*Medium, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsrelay: failed to reach hub %s: %w", url, err)
	}

	m := &Medium{
		conn:    conn,
		frameCh: make(chan []byte, 256),
	}
	if logHandler == nil {
		m.logger = slog.Default()
	} else {
		m.logger = slog.New(logHandler)
	}

	go m.readLoop()
	return m, nil
}

func (m *Medium) Broadcast(frame []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (m *Medium) FrameCh() <-chan []byte {
	return m.frameCh
}

func (m *Medium) readLoop() {
	for {
		msgType, frame, err := m.conn.ReadMessage()
		if err != nil {
			if !m.closed.Load() {
				m.logger.Warn("relay connection lost", "error", err)
			}
			close(m.frameCh)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case m.frameCh <- frame:
		default:
			// Reader too slow; the relay segment just lost a frame.
		}
	}
}

func (m *Medium) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.conn.Close()
}
