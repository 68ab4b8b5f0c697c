package gpib

import "strings"

// Status is the bitfield snapshot reported by the bus-control layer after
// every call, laid out like the linux-gpib ibsta word. Status is latched by
// the driver, not edge-triggered: once an asynchronous operation reaches a
// terminal state, every later sample observes the same bits.
type Status int

const (
	DCAS  Status = 1 << iota // device clear state
	DTAS                     // device trigger state
	LACS                     // board is addressed as a listener
	TACS                     // board is addressed as a talker
	ATN                      // ATN line is asserted
	CIC                      // board is controller-in-charge
	REM                      // board is in remote state
	LOK                      // board is in lockout state
	CMPL                     // I/O operation complete
	EVENT                    // clear, trigger or interface clear event received
	SPOLL                    // board is serial polled
	RQS                      // device has requested service
	SRQI                     // a device is asserting the SRQ line
	END                      // last transfer ended with EOI or the EOS byte
	TIMO                     // last operation timed out
	ERR                      // last call failed
)

// Err reports whether the last call failed. When set, the driver's error
// code accessor holds the cause and takes precedence over CMPL.
func (s Status) Err() bool { return s&ERR != 0 }

// Timo reports whether the last operation timed out.
func (s Status) Timo() bool { return s&TIMO != 0 }

// Cmpl reports whether the I/O operation has completed.
func (s Status) Cmpl() bool { return s&CMPL != 0 }

// End reports whether the last transfer ended with EOI asserted or on
// reception of the end-of-string byte.
func (s Status) End() bool { return s&END != 0 }

// Cic reports whether the board is controller-in-charge.
func (s Status) Cic() bool { return s&CIC != 0 }

var statusNames = []struct {
	bit  Status
	name string
}{
	{DCAS, "DCAS"},
	{DTAS, "DTAS"},
	{LACS, "LACS"},
	{TACS, "TACS"},
	{ATN, "ATN"},
	{CIC, "CIC"},
	{REM, "REM"},
	{LOK, "LOK"},
	{CMPL, "CMPL"},
	{EVENT, "EVENT"},
	{SPOLL, "SPOLL"},
	{RQS, "RQS"},
	{SRQI, "SRQI"},
	{END, "END"},
	{TIMO, "TIMO"},
	{ERR, "ERR"},
}

// String lists the names of the set flags, e.g. "CIC CMPL END".
func (s Status) String() string {
	if s == 0 {
		return "no flag set"
	}
	var names []string
	for _, sn := range statusNames {
		if s&sn.bit != 0 {
			names = append(names, sn.name)
		}
	}
	return strings.Join(names, " ")
}
