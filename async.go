package gpib

import (
	"context"
	"time"
)

// The asynchronous bridge. The bus-control layer offers no completion
// event: a non-blocking transfer is issued and its fate must be discovered
// by re-sampling the latched status word. The bridge turns that protocol
// into a single blocking-on-the-goroutine call that suspends only at the
// poll boundary, so other goroutines keep making progress, and that honors
// context cancellation by actively aborting the native transfer before the
// operation's buffer is released.

// WriteContext sends s to the instrument without blocking other
// goroutines. It fails fast with ErrBusy if another asynchronous operation
// is in flight on the handle, and with ErrClosed if the handle is closed
// before or during the transfer. On cancellation the native transfer is
// aborted and ctx.Err() is returned, unless completion had already been
// latched, in which case the completed write stands.
func (d *Device) WriteContext(ctx context.Context, s string) error {
	if err := d.beginAsync("write"); err != nil {
		return err
	}
	defer d.endAsync()
	if err := ctx.Err(); err != nil {
		return err
	}
	// The buffer belongs to the driver until the transfer resolves;
	// []byte(s) is a fresh allocation nothing else aliases.
	st := d.drv.WriteAsync(d.ud, []byte(s))
	if st.Err() {
		_, err := d.decode("write", st)
		return err
	}
	_, err := d.await(ctx, "write")
	return err
}

// ReadContext reads the instrument's full answer without blocking other
// goroutines, chunk by chunk like ReadString. The pending-operation slot
// is held across all chunks. The transfer buffer is owned by the operation
// until it resolves; after a cancellation is acknowledged no received byte
// leaks to the caller.
func (d *Device) ReadContext(ctx context.Context) (string, error) {
	if err := d.beginAsync("read"); err != nil {
		return "", err
	}
	defer d.endAsync()
	var result []byte
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		buf := make([]byte, readChunk)
		st := d.drv.ReadAsync(d.ud, buf)
		if st.Err() {
			_, err := d.decode("read", st)
			return "", err
		}
		st, err := d.await(ctx, "read")
		if err != nil {
			return "", err
		}
		n := d.drv.Count(d.ud)
		result = append(result, buf[:n]...)
		if st.End() || n < readChunk || n == 0 {
			break
		}
	}
	return string(result), nil
}

// QueryContext writes s and reads back the answer, both asynchronously.
func (d *Device) QueryContext(ctx context.Context, s string) (string, error) {
	if err := d.WriteContext(ctx, s); err != nil {
		return "", err
	}
	return d.ReadContext(ctx)
}

// await drives the polling loop for the in-flight transfer. One status
// sample is taken per tick; between samples the goroutine parks in the
// select, so the loop adds at most one interval of latency and never
// busy-spins. The terminal status is latched by the driver, so a missed
// cycle observes the same state one interval later.
func (d *Device) await(ctx context.Context, op string) (Status, error) {
	interval := d.cfg.PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return d.abort(ctx)
		case <-ticker.C:
			if d.isClosed() {
				// Close has already issued the abort.
				return 0, &Error{Kind: KindClosed, Op: op}
			}
			st := d.drv.AsyncStatus(d.ud)
			if st.Err() {
				// A close that slipped in between the liveness check
				// and the sample shows up as a driver error on a dead
				// descriptor; report the closure, not the artifact.
				if d.isClosed() {
					return 0, &Error{Kind: KindClosed, Op: op}
				}
				_, err := d.decode(op, st)
				return st, err
			}
			if st.Cmpl() {
				return st, nil
			}
		}
	}
}

// abort unwinds a cancelled transfer: stop the native operation first,
// then take one authoritative sample. An abort that lost the race against
// completion reports the real completed result rather than a cancellation.
// Only after the sample, when the driver no longer owns the buffer, does
// the operation resolve.
func (d *Device) abort(ctx context.Context) (Status, error) {
	d.drv.Stop(d.ud)
	st := d.drv.AsyncStatus(d.ud)
	if st.Cmpl() && !st.Err() {
		return st, nil
	}
	return st, ctx.Err()
}
