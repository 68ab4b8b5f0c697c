package gpib

import "sync"

// readChunk is the unit of a chunked read. A transfer shorter than one
// chunk, an END flag or an empty chunk terminates the loop.
const readChunk = 1024

// Device is an open handle to one instrument. A Device owns exactly one
// descriptor on its Driver; independent handles to the same physical
// address do not interfere. All methods are safe for concurrent use, but
// the synchronous and asynchronous surfaces must not be interleaved on one
// handle while a transfer may be outstanding: the pending-operation slot
// only guards the asynchronous bridge's own bookkeeping, it cannot stop a
// blocking call from racing a non-blocking one at the native layer.
type Device struct {
	drv  Driver
	ud   Ud
	addr Address
	cfg  Config

	mu      sync.Mutex
	closed  bool
	pending bool
}

// Open resolves a VISA-style address ("GPIB0::5::INSTR") and open
// parameters into a live handle. The device is cleared (Selected Device
// Clear) as part of opening, matching ibdev + ibclr.
func Open(drv Driver, address string, cfg Config) (*Device, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.Board != nil {
		addr.Board = *cfg.Board
	}
	ud, st := drv.Dev(addr.Board, addr.Primary, addr.Secondary, cfg.Timeout, cfg.SendEOI, cfg.EOS)
	if ud < 0 || st.Err() {
		_, err := decodeStatus("open", st|ERR, drv.Err(ud), 0)
		return nil, err
	}
	d := &Device{drv: drv, ud: ud, addr: addr, cfg: cfg}
	if st := drv.Clear(ud); st.Err() {
		_, err := decodeStatus("clear", st, drv.Err(ud), 0)
		drv.Online(ud, false)
		return nil, err
	}
	return d, nil
}

// Address returns the parsed address the handle was opened with.
func (d *Device) Address() Address { return d.addr }

func (d *Device) String() string { return d.addr.String() }

// Close releases the handle. The native layer does not tolerate a double
// close, so the wrapper tracks liveness itself: closing twice, like any
// other use of a closed handle, fails with ErrClosed instead of reaching
// the driver. If an asynchronous operation is still in flight, it is
// aborted first so its poll loop observes the closure.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return &Error{Kind: KindClosed, Op: "close"}
	}
	d.closed = true
	aborting := d.pending
	d.mu.Unlock()
	if aborting {
		d.drv.Stop(d.ud)
	}
	st := d.drv.Online(d.ud, false)
	_, err := d.decode("close", st)
	return err
}

// decode fetches the error code and transfer count for a completed call
// and maps the snapshot through the status/error model.
func (d *Device) decode(op string, st Status) (int, error) {
	var code ErrorCode
	if st.Err() {
		code = d.drv.Err(d.ud)
	}
	return decodeStatus(op, st, code, d.drv.Count(d.ud))
}

// checkOpen fails with ErrClosed once the handle is known closed.
func (d *Device) checkOpen(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &Error{Kind: KindClosed, Op: op}
	}
	return nil
}

// beginAsync claims the single pending-operation slot. At most one
// asynchronous operation may be in flight per handle; a second one fails
// fast with ErrBusy. Claiming races with Close under the same mutex, so a
// close always surfaces as ErrClosed to the operation, never as a silent
// no-op.
func (d *Device) beginAsync(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &Error{Kind: KindClosed, Op: op}
	}
	if d.pending {
		return &Error{Kind: KindBusy, Op: op}
	}
	d.pending = true
	return nil
}

func (d *Device) endAsync() {
	d.mu.Lock()
	d.pending = false
	d.mu.Unlock()
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Write sends p to the instrument, blocking the calling goroutine for the
// full bus transaction. It returns the number of bytes actually
// transferred; a short write is not an error by itself.
func (d *Device) Write(p []byte) (int, error) {
	if err := d.checkOpen("write"); err != nil {
		return 0, err
	}
	return d.decode("write", d.drv.Write(d.ud, p))
}

// Read fills p with bytes from the instrument, blocking like Write. It
// returns the number of bytes actually transferred, which may be less than
// len(p).
func (d *Device) Read(p []byte) (int, error) {
	if err := d.checkOpen("read"); err != nil {
		return 0, err
	}
	return d.decode("read", d.drv.Read(d.ud, p))
}

// WriteString sends s to the instrument.
func (d *Device) WriteString(s string) error {
	_, err := d.Write([]byte(s))
	return err
}

// ReadString reads the instrument's full answer, chunk by chunk, until the
// transfer ends with EOI/EOS or a short chunk.
func (d *Device) ReadString() (string, error) {
	var result []byte
	for {
		buf := make([]byte, readChunk)
		if err := d.checkOpen("read"); err != nil {
			return "", err
		}
		st := d.drv.Read(d.ud, buf)
		n, err := d.decode("read", st)
		if err != nil {
			return "", err
		}
		result = append(result, buf[:n]...)
		if st.End() || n < readChunk || n == 0 {
			break
		}
	}
	return string(result), nil
}

// Query writes s and reads back the answer.
func (d *Device) Query(s string) (string, error) {
	if err := d.WriteString(s); err != nil {
		return "", err
	}
	return d.ReadString()
}
