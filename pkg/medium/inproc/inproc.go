// Package inproc provides a single-process simulated broadcast medium: every
// frame a port broadcasts is heard by every other port joined to the same
// bus. Delay and drop rate can be injected to observe the protocol's
// recovery behaviour under a lossy network.
package inproc

import (
	"math/rand"
	"sync"
	"time"

	"github.com/meshnet-io/mnet"
)

var _ mnet.Medium = (*Port)(nil)

// frameBuffer is how many inbound frames a port queues before the medium
// starts dropping, like any radio whose listener is too slow.
const frameBuffer = 256

// Bus is the shared broadcast channel. Ports need no identity: addressing is
// the transport's business, the bus just fans frames out.
type Bus struct {
	mu    sync.RWMutex
	ports map[*Port]struct{}

	delay    time.Duration
	dropRate float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewBus(seed int64) *Bus {
	return &Bus{
		ports: make(map[*Port]struct{}),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// SetDelay injects a fixed delivery delay. Delayed deliveries run on their
// own goroutines, so frames may also be reordered — which is the point.
func (b *Bus) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// SetDropRate injects a uniform loss probability in [0, 1].
func (b *Bus) SetDropRate(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropRate = p
}

// Join attaches a new port to the bus. The returned Port implements
// mnet.Medium.
func (b *Bus) Join() *Port {
	p := &Port{
		bus: b,
		ch:  make(chan []byte, frameBuffer),
	}
	b.mu.Lock()
	b.ports[p] = struct{}{}
	b.mu.Unlock()
	return p
}

func (b *Bus) shouldDrop(p float64) bool {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Float64() < p
}

// Port is one participant's attachment to the bus.
type Port struct {
	bus *Bus

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// Broadcast fans the frame out to every other port. With no delay configured
// delivery is synchronous, which keeps tests deterministic; with a delay each
// delivery runs on its own goroutine.
func (p *Port) Broadcast(frame []byte) error {
	b := p.bus
	b.mu.RLock()
	delay := b.delay
	dropRate := b.dropRate
	recipients := make([]*Port, 0, len(b.ports))
	for other := range b.ports {
		if other == p {
			continue
		}
		recipients = append(recipients, other)
	}
	b.mu.RUnlock()

	for _, other := range recipients {
		if dropRate > 0 && b.shouldDrop(dropRate) {
			continue
		}
		buf := make([]byte, len(frame))
		copy(buf, frame)
		if delay > 0 {
			other := other
			go func() {
				time.Sleep(delay)
				other.deliver(buf)
			}()
		} else {
			other.deliver(buf)
		}
	}
	return nil
}

func (p *Port) deliver(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- frame:
	default:
		// Listener too slow; a broadcast medium just loses the frame.
	}
}

func (p *Port) FrameCh() <-chan []byte {
	return p.ch
}

func (p *Port) Close() error {
	p.bus.mu.Lock()
	delete(p.bus.ports, p)
	p.bus.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}
