package mnet_test

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshnet-io/mnet"
	"github.com/meshnet-io/mnet/pkg/medium/inproc"
)

func meshLogHandler(emitter string) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(emitter)},
	})
}

func newMeshTransport(t *testing.T, name string, m mnet.Medium, opts ...mnet.Option) *mnet.Transport {
	t.Helper()
	base := []mnet.Option{
		mnet.WithHostname(name),
		mnet.WithMedium(m),
		mnet.WithLog(meshLogHandler(name)),
		mnet.WithMetricSink(nil),
		mnet.WithRetransmitInterval(50 * time.Millisecond),
		mnet.WithDropTimeout(2 * time.Second),
	}
	tr, err := mnet.Create(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

// startPump polls Receive in a loop, the way every real caller must, and
// funnels delivered messages into a channel.
func startPump(tr *mnet.Transport) (<-chan *mnet.Message, func()) {
	msgs := make(chan *mnet.Message, 64)
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			msg, err := tr.Receive(10 * time.Millisecond)
			if err != nil {
				return
			}
			if msg != nil {
				select {
				case msgs <- msg:
				default:
				}
			}
		}
	}()
	return msgs, func() { close(stopCh); <-done }
}

func waitMsg(t *testing.T, msgs <-chan *mnet.Message) *mnet.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestRoundTripReliable(t *testing.T) {
	bus := inproc.NewBus(42)
	var lost atomic.Bool
	a := newMeshTransport(t, "alpha", bus.Join(),
		mnet.WithLossHandler(func(string, uint32, uint16, []byte) { lost.Store(true) }))
	b := newMeshTransport(t, "beta", bus.Join())

	_, stopA := startPump(a)
	defer stopA()
	bMsgs, stopB := startPump(b)
	defer stopB()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := a.SendWait(ctx, "beta", 7, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "beta", h.Host)

	msg := waitMsg(t, bMsgs)
	require.Equal(t, "alpha", msg.From)
	require.Equal(t, uint16(7), msg.Port)
	require.Equal(t, []byte("x"), msg.Payload)
	require.False(t, lost.Load(), "loss callback must not fire on a clean round trip")
}

func TestEmptyMessageRoundTrip(t *testing.T) {
	bus := inproc.NewBus(13)
	a := newMeshTransport(t, "alpha", bus.Join())
	b := newMeshTransport(t, "beta", bus.Join())

	_, stopA := startPump(a)
	defer stopA()
	bMsgs, stopB := startPump(b)
	defer stopB()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.SendWait(ctx, "beta", 7, nil)
	require.NoError(t, err, "an empty message must still complete the ack wait")

	msg := waitMsg(t, bMsgs)
	require.Equal(t, "alpha", msg.From)
	require.Empty(t, msg.Payload)
}

func TestFragmentationIdempotence(t *testing.T) {
	bus := inproc.NewBus(7)
	a := newMeshTransport(t, "alpha", bus.Join(), mnet.WithMTU(64))
	b := newMeshTransport(t, "beta", bus.Join(), mnet.WithMTU(64))

	_, stopA := startPump(a)
	defer stopA()
	bMsgs, stopB := startPump(b)
	defer stopB()

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.SendWait(ctx, "beta", 3, payload)
	require.NoError(t, err)

	msg := waitMsg(t, bMsgs)
	require.Equal(t, payload, msg.Payload, "reassembly must be byte-identical")
}

func TestSequenceWraparound(t *testing.T) {
	bus := inproc.NewBus(3)
	a := newMeshTransport(t, "alpha", bus.Join(), mnet.WithMaxSequence(8))
	b := newMeshTransport(t, "beta", bus.Join(), mnet.WithMaxSequence(8))

	_, stopA := startPump(a)
	defer stopA()
	bMsgs, stopB := startPump(b)
	defer stopB()

	// 13 packets through a ring of 8: numbering wraps back to 1.
	for i := 0; i < 13; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := a.SendWait(ctx, "beta", 2, []byte{byte(i)})
		cancel()
		require.NoError(t, err)

		msg := waitMsg(t, bMsgs)
		require.Equal(t, []byte{byte(i)}, msg.Payload)
	}
}

func TestBroadcastRestriction(t *testing.T) {
	bus := inproc.NewBus(11)
	a := newMeshTransport(t, "alpha", bus.Join())
	b := newMeshTransport(t, "beta", bus.Join())
	c := newMeshTransport(t, "gamma", bus.Join())

	_, err := a.Send(mnet.Broadcast, 4, []byte("x"), true)
	require.ErrorIs(t, err, mnet.ErrReliableBroadcast)

	bMsgs, stopB := startPump(b)
	defer stopB()
	cMsgs, stopC := startPump(c)
	defer stopC()

	h, err := a.Send(mnet.Broadcast, 4, []byte("x"), false)
	require.NoError(t, err)
	require.Nil(t, h, "unreliable sends return no handle")

	for _, msgs := range []<-chan *mnet.Message{bMsgs, cMsgs} {
		msg := waitMsg(t, msgs)
		require.Equal(t, "alpha", msg.From)
		require.Equal(t, []byte("x"), msg.Payload)
	}
}

// bridgedMedium attaches one host to two bus segments at once, so flood
// forwarding can be exercised across a topology where the endpoints are out
// of each other's range.
type bridgedMedium struct {
	left, right *inproc.Port
	ch          chan []byte
	stop        chan struct{}
}

func newBridgedMedium(left, right *inproc.Port) *bridgedMedium {
	m := &bridgedMedium{
		left:  left,
		right: right,
		ch:    make(chan []byte, 64),
		stop:  make(chan struct{}),
	}
	forward := func(src <-chan []byte) {
		for frame := range src {
			select {
			case m.ch <- frame:
			case <-m.stop:
				return
			}
		}
	}
	go forward(left.FrameCh())
	go forward(right.FrameCh())
	return m
}

func (m *bridgedMedium) Broadcast(frame []byte) error {
	if err := m.left.Broadcast(frame); err != nil {
		return err
	}
	return m.right.Broadcast(frame)
}

func (m *bridgedMedium) FrameCh() <-chan []byte { return m.ch }

func (m *bridgedMedium) Close() error {
	close(m.stop)
	m.left.Close()
	return m.right.Close()
}

func TestFloodForwardingAcrossSegments(t *testing.T) {
	// alpha -- segment 1 -- relay -- segment 2 -- beta
	seg1 := inproc.NewBus(5)
	seg2 := inproc.NewBus(6)

	a := newMeshTransport(t, "alpha", seg1.Join())
	relay := newMeshTransport(t, "relay", newBridgedMedium(seg1.Join(), seg2.Join()))
	b := newMeshTransport(t, "beta", seg2.Join())

	_, stopA := startPump(a)
	defer stopA()
	_, stopRelay := startPump(relay)
	defer stopRelay()
	bMsgs, stopB := startPump(b)
	defer stopB()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.SendWait(ctx, "beta", 7, []byte("over the hill"))
	require.NoError(t, err, "the relay must flood both the data and the ack")

	msg := waitMsg(t, bMsgs)
	require.Equal(t, "alpha", msg.From)
	require.Equal(t, []byte("over the hill"), msg.Payload)
}

func TestReceiveAfterClose(t *testing.T) {
	bus := inproc.NewBus(1)
	tr := newMeshTransport(t, "alpha", bus.Join())
	require.NoError(t, tr.Close())

	_, err := tr.Receive(time.Millisecond)
	require.ErrorIs(t, err, mnet.ErrClosed)

	_, err = tr.Send("beta", 1, []byte("x"), true)
	require.ErrorIs(t, err, mnet.ErrClosed)
}
