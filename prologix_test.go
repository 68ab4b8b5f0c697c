//go:build linux

package gpib

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

// fakeAdapter emulates a Prologix controller on the master side of a PTY
// pair. Incoming ++ commands are acknowledged silently; any data line is
// remembered and played back on the next "++read", like an instrument that
// echoes its last request.
type fakeAdapter struct {
	master *os.File
	mu     sync.Mutex
	resp   []byte
	data   chan []byte
}

func startFakeAdapter(master *os.File) *fakeAdapter {
	f := &fakeAdapter{master: master, data: make(chan []byte, 8)}
	go f.serve()
	return f
}

func (f *fakeAdapter) serve() {
	r := bufio.NewReader(f.master)
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case 0x1b:
			// Escaped byte: take the next one literally.
			nb, err := r.ReadByte()
			if err != nil {
				return
			}
			line = append(line, nb)
		case '\n':
			f.handle(line)
			line = nil
		default:
			line = append(line, b)
		}
	}
}

func (f *fakeAdapter) handle(line []byte) {
	if bytes.HasPrefix(line, []byte("++")) {
		if bytes.HasPrefix(line, []byte("++read")) {
			f.mu.Lock()
			resp := f.resp
			f.resp = nil
			f.mu.Unlock()
			if len(resp) > 0 {
				f.master.Write(resp)
			}
		}
		return
	}
	payload := append([]byte(nil), line...)
	f.mu.Lock()
	f.resp = payload
	f.mu.Unlock()
	select {
	case f.data <- payload:
	default:
	}
}

func newPrologixPair(t *testing.T) (*fakeAdapter, *Prologix) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	fake := startFakeAdapter(master)
	plx, err := OpenPrologix(slave.Name())
	require.NoError(t, err)
	t.Cleanup(func() { plx.Close() })
	return fake, plx
}

func TestPrologix_QueryRoundTrip(t *testing.T) {
	_, plx := newPrologixPair(t)
	dev, err := Open(plx, "GPIB0::5::INSTR", Config{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	got, err := dev.Query("*IDN?")
	require.NoError(t, err)
	require.Equal(t, "*IDN?", got)
}

func TestPrologix_AsyncQuery(t *testing.T) {
	_, plx := newPrologixPair(t)
	dev, err := Open(plx, "GPIB0::5::INSTR", Config{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := dev.QueryContext(ctx, "MEAS:VOLT:DC?")
	require.NoError(t, err)
	require.Equal(t, "MEAS:VOLT:DC?", got)
}

func TestPrologix_WriteUnescapesIntact(t *testing.T) {
	fake, plx := newPrologixPair(t)
	dev, err := Open(plx, "GPIB0::5::INSTR", Config{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	// Bytes the adapter protocol treats specially must come out unchanged
	// on the bus side.
	msg := "a+b\rc\x1bd"
	n, err := dev.Write([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	select {
	case got := <-fake.data:
		require.Equal(t, msg, string(got))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for adapter to receive data")
	}
}

func TestPrologix_CancelBlockedRead(t *testing.T) {
	_, plx := newPrologixPair(t)
	dev, err := Open(plx, "GPIB0::5::INSTR", Config{Timeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	// Nothing queued on the fake: the read blocks on the serial port until
	// the self-pipe wakes it.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := dev.ReadContext(ctx)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for cancelled read to return")
	}
}

func TestPrologix_ReadTimeout(t *testing.T) {
	_, plx := newPrologixPair(t)
	dev, err := Open(plx, "GPIB0::5::INSTR", Config{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	_, err = dev.Read(make([]byte, 16))
	require.ErrorIs(t, err, ErrTimeout)
}

func TestPrologix_DevRejections(t *testing.T) {
	_, plx := newPrologixPair(t)

	// The adapter drives a single bus.
	ud, st := plx.Dev(1, 5, 0, time.Second, true, EosMode{})
	require.True(t, st.Err())
	require.Equal(t, ENEB, plx.Err(ud))

	// Secondary addressing is not supported.
	ud, st = plx.Dev(0, 5, 0x62, time.Second, true, EosMode{})
	require.True(t, st.Err())
	require.Equal(t, ECAP, plx.Err(ud))
}

func TestEscape(t *testing.T) {
	require.Equal(t, []byte("abc"), escape([]byte("abc")))
	require.Equal(t, []byte("\x1b+\x1b\r\x1b\n\x1b\x1bx"), escape([]byte("+\r\n\x1bx")))
}

func TestEosSetting(t *testing.T) {
	require.Equal(t, 3, eosSetting(EosMode{}))
	require.Equal(t, 3, eosSetting(EosMode{Char: '\n', Reos: true}))
	require.Equal(t, 2, eosSetting(EosMode{Char: '\n', Xeos: true}))
	require.Equal(t, 1, eosSetting(EosMode{Char: '\r', Xeos: true}))
	require.Equal(t, 3, eosSetting(EosMode{Char: ';', Xeos: true}))
}
