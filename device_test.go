package gpib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newEchoSim(t *testing.T) (*Simulator, *Device) {
	t.Helper()
	sim := NewSimulator()
	sim.Attach(5, EchoInstrument{})
	dev, err := Open(sim, "GPIB0::5::INSTR", Config{Timeout: time.Second})
	require.NoError(t, err)
	return sim, dev
}

func TestOpenClose(t *testing.T) {
	sim := NewSimulator()
	sim.Attach(5, EchoInstrument{})

	dev, err := Open(sim, "GPIB0::5::INSTR", Config{})
	require.NoError(t, err)
	require.Equal(t, "GPIB0::5::INSTR", dev.String())
	require.NoError(t, dev.Close())

	// No pending operation survives open/close.
	require.False(t, dev.pending)
}

func TestOpen_InvalidAddress(t *testing.T) {
	sim := NewSimulator()
	_, err := Open(sim, "not-an-address", Config{})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestOpen_UnknownBoard(t *testing.T) {
	sim := NewSimulator()
	sim.Attach(5, EchoInstrument{})
	_, err := Open(sim, "GPIB7::5::INSTR", Config{})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOpen_BoardOverride(t *testing.T) {
	sim := NewSimulator()
	sim.AttachBoard(2, 5, EchoInstrument{})
	board := 2
	dev, err := Open(sim, "GPIB0::5::INSTR", Config{Board: &board})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	got, err := dev.Query("ping")
	require.NoError(t, err)
	require.Equal(t, "ping", got)
}

func TestClose_Twice(t *testing.T) {
	_, dev := newEchoSim(t)
	require.NoError(t, dev.Close())
	require.ErrorIs(t, dev.Close(), ErrClosed)
}

func TestUseAfterClose(t *testing.T) {
	_, dev := newEchoSim(t)
	require.NoError(t, dev.Close())

	ctx := context.Background()
	_, err := dev.Write([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	_, err = dev.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, dev.WriteContext(ctx, "x"), ErrClosed)
	_, err = dev.ReadContext(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestSyncRoundTrip(t *testing.T) {
	_, dev := newEchoSim(t)
	t.Cleanup(func() { dev.Close() })

	msg := "*IDN?\r\n"
	n, err := dev.Write([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	buf := make([]byte, 64)
	n, err = dev.Read(buf)
	require.NoError(t, err)
	require.Equal(t, msg, string(buf[:n]))
}

func TestSyncQuery(t *testing.T) {
	_, dev := newEchoSim(t)
	t.Cleanup(func() { dev.Close() })

	got, err := dev.Query("*IDN?\r\n")
	require.NoError(t, err)
	require.Equal(t, "*IDN?\r\n", got)
}

func TestSyncRead_Timeout(t *testing.T) {
	sim := NewSimulator()
	sim.Attach(5, EchoInstrument{})
	dev, err := Open(sim, "GPIB0::5::INSTR", Config{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	// Nothing was written, so the instrument has nothing to say.
	_, err = dev.Read(make([]byte, 16))
	require.ErrorIs(t, err, ErrTimeout)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.True(t, gerr.Status.Timo())
}

func TestSyncWrite_NoListener(t *testing.T) {
	sim := NewSimulator()
	sim.Attach(5, EchoInstrument{})
	// Address 9 exists on the board but nobody answers there.
	dev, err := Open(sim, "GPIB0::9::INSTR", Config{})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	_, err = dev.Write([]byte("anyone?"))
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, ENOL, gerr.Code)
}

func TestIndependentHandles(t *testing.T) {
	sim := NewSimulator()
	sim.Attach(5, EchoInstrument{})

	a, err := Open(sim, "GPIB0::5::INSTR", Config{})
	require.NoError(t, err)
	b, err := Open(sim, "GPIB0::5::INSTR", Config{})
	require.NoError(t, err)

	// Closing one handle must not invalidate the other.
	require.NoError(t, a.Close())
	got, err := b.Query("still alive")
	require.NoError(t, err)
	require.Equal(t, "still alive", got)
	require.NoError(t, b.Close())
}

func TestBoard_FindListeners(t *testing.T) {
	sim := NewSimulator()
	sim.Attach(9, EchoInstrument{})
	sim.Attach(5, EchoInstrument{})

	board := NewBoard(sim, 0)
	require.NoError(t, board.InterfaceClear())
	addrs, err := board.FindListeners()
	require.NoError(t, err)
	require.Equal(t, []Address{{Primary: 5}, {Primary: 9}}, addrs)
}

func TestBoard_WithoutCapability(t *testing.T) {
	// A Driver that is not a BoardDriver reports the missing capability.
	board := NewBoard(struct{ Driver }{}, 0)
	err := board.InterfaceClear()
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, ECAP, gerr.Code)
	_, err = board.FindListeners()
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, ECAP, gerr.Code)
}
