// Package gpib provides controlled access to instruments on a General
// Purpose Interface Bus (IEEE-488) on Linux.
//
// The package wraps a status-register-driven bus-control layer (the Driver
// interface, modeled on the linux-gpib "traditional" API) and builds two
// I/O surfaces on top of it:
//
//   - Synchronous primitives (Write, Read, Query) that block the calling
//     goroutine for the duration of the bus transaction, bounded by the
//     timeout configured at open time.
//   - An asynchronous bridge (WriteContext, ReadContext, QueryContext) that
//     issues a non-blocking transfer and resolves it by sampling the
//     latched status word at a short interval, honoring context
//     cancellation by actively aborting the in-flight native operation.
//
// Three drivers are included:
//
//   - Simulator: an in-memory board with scriptable instruments, for tests
//     and development without hardware
//   - Prologix: a Prologix GPIB-USB controller on a raw serial port
//     (linux only)
//   - a cgo binding to the installed linux-gpib user library, enabled with
//     the "linuxgpib" build tag
//
// Example usage:
//
//	sim := gpib.NewSimulator()
//	sim.Attach(5, gpib.EchoInstrument{})
//
//	dev, err := gpib.Open(sim, "GPIB0::5::INSTR", gpib.Config{Timeout: time.Second})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	idn, err := dev.QueryContext(ctx, "*IDN?\r\n")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(idn)
//
// Operations on a single handle are strictly one-at-a-time: starting an
// asynchronous transfer while another is in flight fails immediately with
// ErrBusy. Handles are independent; concurrent use of distinct handles is
// safe.
package gpib
