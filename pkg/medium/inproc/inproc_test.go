package inproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus(1)
	a := bus.Join()
	b := bus.Join()
	c := bus.Join()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	require.NoError(t, a.Broadcast([]byte("hello")))

	for _, p := range []*Port{b, c} {
		select {
		case frame := <-p.FrameCh():
			require.Equal(t, []byte("hello"), frame)
		default:
			t.Fatal("frame not delivered")
		}
	}

	// The sender never hears itself.
	select {
	case <-a.FrameCh():
		t.Fatal("sender received its own broadcast")
	default:
	}
}

func TestBusDropRate(t *testing.T) {
	bus := NewBus(1)
	a := bus.Join()
	b := bus.Join()
	defer a.Close()
	defer b.Close()

	bus.SetDropRate(1.0)
	require.NoError(t, a.Broadcast([]byte("x")))
	select {
	case <-b.FrameCh():
		t.Fatal("frame delivered despite a 100% drop rate")
	default:
	}

	bus.SetDropRate(0)
	require.NoError(t, a.Broadcast([]byte("y")))
	require.Equal(t, []byte("y"), <-b.FrameCh())
}

func TestBusDelay(t *testing.T) {
	bus := NewBus(1)
	a := bus.Join()
	b := bus.Join()
	defer a.Close()
	defer b.Close()

	bus.SetDelay(20 * time.Millisecond)
	require.NoError(t, a.Broadcast([]byte("later")))

	select {
	case <-b.FrameCh():
		t.Fatal("delayed frame delivered immediately")
	default:
	}

	select {
	case frame := <-b.FrameCh():
		require.Equal(t, []byte("later"), frame)
	case <-time.After(time.Second):
		t.Fatal("delayed frame never arrived")
	}
}

func TestPortClose(t *testing.T) {
	bus := NewBus(1)
	a := bus.Join()
	b := bus.Join()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "closing twice is fine")

	// Broadcasting to a bus with a departed port must not panic.
	require.NoError(t, a.Broadcast([]byte("x")))

	_, ok := <-b.FrameCh()
	require.False(t, ok, "a closed port's frame channel is closed")
}
