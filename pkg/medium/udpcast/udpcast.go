// Package udpcast runs mnet over UDP broadcast on a LAN segment: every host
// binds the same port and transmits to the segment's broadcast address, so
// each frame is heard by every participant.
package udpcast

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/meshnet-io/mnet"
)

var _ mnet.Medium = (*Medium)(nil)

const defaultBufferSize = 1 << 20

// maxFrameSize bounds one read; mnet frames are MTU-sized plus a small
// header, so this is generous.
const maxFrameSize = 64 << 10

// Config for the UDP broadcast medium.
type Config struct {
	// Port shared by every host on the segment.
	Port int

	// BroadcastAddr is where frames are transmitted. Defaults to the
	// limited broadcast address 255.255.255.255.
	BroadcastAddr string

	// BufferSize of the requested UDP kernel buffer. The request is
	// halved until the kernel accepts it.
	BufferSize int

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler
}

type Medium struct {
	conn    *net.UDPConn
	dst     *net.UDPAddr
	frameCh chan []byte
	logger  *slog.Logger
	closed  atomic.Bool
}

func New(cfg *Config) (*Medium, error) {
	m := &Medium{
		frameCh: make(chan []byte, 256),
	}
	if cfg.LogHandler == nil {
		m.logger = slog.Default()
	} else {
		m.logger = slog.New(cfg.LogHandler)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("udpcast: failed to allocate UDP listener: %w", err)
	}
	m.conn = conn

	requested := cfg.BufferSize
	if requested == 0 {
		requested = defaultBufferSize
	}
	m.negotiateBufferSize(requested)

	bcast := cfg.BroadcastAddr
	if bcast == "" {
		bcast = "255.255.255.255"
	}
	ip := net.ParseIP(bcast)
	if ip == nil {
		conn.Close()
		return nil, fmt.Errorf("udpcast: invalid broadcast address %q", bcast)
	}
	m.dst = &net.UDPAddr{IP: ip, Port: cfg.Port}

	go m.readLoop()
	return m, nil
}

func (m *Medium) negotiateBufferSize(requested int) {
	size := requested
	for size > 0 {
		if err := m.conn.SetReadBuffer(size); err != nil {
			size = size >> 1
			continue
		}
		if size != requested {
			m.logger.Warn("using smaller than expected UDP buffer", "bytes", size)
		}
		return
	}
}

func (m *Medium) Broadcast(frame []byte) error {
	_, err := m.conn.WriteToUDP(frame, m.dst)
	return err
}

func (m *Medium) FrameCh() <-chan []byte {
	return m.frameCh
}

func (m *Medium) readLoop() {
	buf := make([]byte, maxFrameSize)
	for {
		n, _, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if !m.closed.Load() {
				m.logger.Warn("unexpected UDP listener closure", "error", err)
			}
			close(m.frameCh)
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case m.frameCh <- frame:
		default:
			// Reader too slow; the segment just lost a frame.
		}
	}
}

func (m *Medium) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.conn.Close()
}
