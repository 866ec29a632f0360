package mnet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	p := &packet{
		Channel: 3,
		ID:      0xdeadbeef,
		Seq:     41,
		Flags: Flags{
			Syn:           true,
			RequiresAck:   true,
			FragmentCount: 7,
		},
		Dst:     "quarry-7",
		Src:     "base.control",
		Port:    1042,
		Payload: []byte("some payload"),
	}

	got, err := decodePacket(encodePacket(p))
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestPacketAckHasNoPayload(t *testing.T) {
	p := &packet{
		Channel: 0,
		ID:      1,
		Seq:     0,
		Flags:   Flags{Ack: true},
		Dst:     "alpha",
		Src:     "beta",
		Port:    9,
	}
	got, err := decodePacket(encodePacket(p))
	require.NoError(t, err)
	require.True(t, got.Flags.Ack)
	require.Zero(t, got.Seq, "an ack may acknowledge nothing yet")
	require.Nil(t, got.Payload)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := decodePacket([]byte("short"))
	require.ErrorIs(t, err, ErrFrameMalformed)

	// Host name lengths pointing past the end of the frame.
	p := &packet{Channel: 0, ID: 1, Seq: 1, Dst: "alpha", Src: "beta"}
	frame := encodePacket(p)
	_, err = decodePacket(frame[:headerSize+2])
	require.ErrorIs(t, err, ErrFrameMalformed)
}

func TestValidateHostName(t *testing.T) {
	require.True(t, ValidateHostName("quarry-7.site"))
	require.False(t, ValidateHostName(""))
	require.False(t, ValidateHostName(Broadcast))
	require.False(t, ValidateHostName("white space"))
}
