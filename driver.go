package gpib

import "time"

// Ud is an opaque descriptor naming an open logical connection on a driver,
// the "ud" of the traditional API. Negative values are never valid.
type Ud int

// Driver is the bus-control layer boundary. Every method mirrors one
// native primitive and reports its outcome through a Status snapshot; when
// ERR is set, Err holds the cause and Count the bytes moved so far. All
// methods must be safe to call from any goroutine.
//
// The non-blocking WriteAsync/ReadAsync return immediately with the initial
// status of the transfer. Completion is discovered by sampling AsyncStatus,
// which returns the latched terminal status once the transfer finishes.
// The buffer handed to a non-blocking call belongs to the driver until the
// operation reaches a terminal state or Stop has been acknowledged.
type Driver interface {
	// Dev opens a descriptor for the device at pad/sad on the given
	// board (ibdev). On failure the returned Ud is negative, the status
	// carries ERR, and Err with the returned Ud reports the cause.
	Dev(board, pad, sad int, timeout time.Duration, sendEOI bool, eos EosMode) (Ud, Status)

	// Online with online=false closes the descriptor (ibonl). Using a
	// descriptor after closing it is undefined at this layer; the Device
	// wrapper guards against it.
	Online(ud Ud, online bool) Status

	// Clear sends Selected Device Clear to the device (ibclr).
	Clear(ud Ud) Status

	// Write and Read block the calling goroutine for the full bus
	// transaction, bounded by the descriptor's timeout.
	Write(ud Ud, p []byte) Status
	Read(ud Ud, p []byte) Status

	// WriteAsync and ReadAsync issue a non-blocking transfer
	// (ibwrta/ibrda). At most one may be in flight per descriptor;
	// issuing a second reports EOIP.
	WriteAsync(ud Ud, p []byte) Status
	ReadAsync(ud Ud, p []byte) Status

	// AsyncStatus samples the current status of the in-flight transfer
	// without blocking. The terminal status is latched: a sample missed
	// between poll cycles is observed unchanged on the next one.
	AsyncStatus(ud Ud) Status

	// Count reports the number of bytes moved by the last completed
	// operation on the descriptor (ibcnt).
	Count(ud Ud) int

	// Err reports the cause of the last failure on the descriptor.
	// Undefined unless the last status carried ERR.
	Err(ud Ud) ErrorCode

	// Stop aborts the in-flight non-blocking transfer (ibstop). Safe to
	// issue when the transfer has already completed; the completion then
	// stands and the abort is a no-op.
	Stop(ud Ud) Status
}

// BoardDriver is an optional capability for drivers that can address the
// board itself, used by Board and the scan tool.
type BoardDriver interface {
	Driver

	// InterfaceClear pulses IFC, making the board controller-in-charge
	// and forcing all devices to untalk and unlisten (ibsic).
	InterfaceClear(board int) Status

	// FindListeners reports the primary addresses answering on the bus.
	FindListeners(board int) ([]int, Status)
}
