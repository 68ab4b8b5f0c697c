package gpib

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Address identifies an instrument on a bus: board index, primary address
// (0..30) and optional secondary address. Secondary is stored in the NI
// convention (0x60..0x7e), with 0 meaning disabled.
type Address struct {
	Board     int
	Primary   int
	Secondary int
}

// ParseAddress parses a VISA-style address of the form
// "GPIB0::5::INSTR" or "GPIB0::5::2::INSTR".
func ParseAddress(s string) (Address, error) {
	fail := func(format string, args ...any) (Address, error) {
		return Address{}, &Error{
			Kind:   KindInvalidAddress,
			Op:     "parse",
			Detail: fmt.Sprintf(format, args...),
		}
	}
	parts := strings.Split(s, "::")
	if len(parts) < 2 {
		return fail("address %q: expected GPIBn::primary[::secondary]::INSTR", s)
	}
	if !strings.HasPrefix(parts[0], "GPIB") {
		return fail("address %q: missing GPIB prefix", s)
	}
	board := 0
	if idx := parts[0][4:]; idx != "" {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return fail("address %q: bad board index %q", s, idx)
		}
		board = n
	}
	// The trailing ::INSTR suffix is optional.
	if last := parts[len(parts)-1]; strings.EqualFold(last, "INSTR") {
		parts = parts[:len(parts)-1]
	}
	if len(parts) < 2 || len(parts) > 3 {
		return fail("address %q: expected GPIBn::primary[::secondary]::INSTR", s)
	}
	pad, err := strconv.Atoi(parts[1])
	if err != nil || pad < 0 || pad > 30 {
		return fail("address %q: primary address must be 0..30", s)
	}
	sad := 0
	if len(parts) == 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return fail("address %q: bad secondary address %q", s, parts[2])
		}
		sad, err = secondaryAddress(n)
		if err != nil {
			return fail("address %q: %v", s, err)
		}
	}
	return Address{Board: board, Primary: pad, Secondary: sad}, nil
}

// secondaryAddress normalizes a secondary address to the NI convention:
// 0 disables it, 1..30 get 0x60 added, 0x60..0x7e pass through.
func secondaryAddress(n int) (int, error) {
	switch {
	case n == 0:
		return 0, nil
	case n >= 1 && n <= 30:
		return n + 0x60, nil
	case n >= 0x60 && n <= 0x7e:
		return n, nil
	default:
		return 0, fmt.Errorf("secondary address must be 0..30 or 0x60..0x7e, got %d", n)
	}
}

// String renders the VISA form of the address.
func (a Address) String() string {
	if a.Secondary != 0 {
		return fmt.Sprintf("GPIB%d::%d::%d::INSTR", a.Board, a.Primary, a.Secondary-0x60)
	}
	return fmt.Sprintf("GPIB%d::%d::INSTR", a.Board, a.Primary)
}

// EosMode configures end-of-string handling for a handle.
type EosMode struct {
	Char byte // end-of-string byte
	Reos bool // terminate reads on reception of Char
	Xeos bool // assert EOI whenever Char is sent
	Bin  bool // match Char on all 8 bits instead of 7
}

// mode encodes the flags and byte the way ibeos expects them.
func (m EosMode) mode() int {
	v := int(m.Char)
	if m.Reos {
		v |= 0x400
	}
	if m.Xeos {
		v |= 0x800
	}
	if m.Bin {
		v |= 0x1000
	}
	return v
}

// Config holds the open parameters of a handle. The zero value is usable:
// every field is independently defaulted by Open.
type Config struct {
	// Board overrides the board index parsed from the address string.
	Board *int

	// Timeout bounds every bus transaction on the handle. It is enforced
	// by the bus-control layer, which reports TIMO on expiry. Zero means
	// the 1 second default; negative disables the timeout.
	Timeout time.Duration

	// EOS is the end-of-string termination mode. Zero value disables EOS
	// handling.
	EOS EosMode

	// SendEOI asserts the EOI line with the last byte of every write.
	SendEOI bool

	// PollInterval is the status sampling interval of the asynchronous
	// bridge. Zero means 10ms.
	PollInterval time.Duration
}

const (
	defaultTimeout      = time.Second
	defaultPollInterval = 10 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// timeoutCodes are the discrete timeout settings the native layer knows
// (the ibtmo scale). timeoutCode picks the smallest one that covers d.
var timeoutCodes = []struct {
	code int
	d    time.Duration
}{
	{1, 10 * time.Microsecond},
	{2, 30 * time.Microsecond},
	{3, 100 * time.Microsecond},
	{4, 300 * time.Microsecond},
	{5, time.Millisecond},
	{6, 3 * time.Millisecond},
	{7, 10 * time.Millisecond},
	{8, 30 * time.Millisecond},
	{9, 100 * time.Millisecond},
	{10, 300 * time.Millisecond},
	{11, time.Second},
	{12, 3 * time.Second},
	{13, 10 * time.Second},
	{14, 30 * time.Second},
	{15, 100 * time.Second},
	{16, 300 * time.Second},
	{17, 1000 * time.Second},
}

// timeoutCode returns the ibtmo code for the smallest native timeout that
// is at least d. Durations beyond 1000s, and non-positive durations,
// disable the timeout (code 0).
func timeoutCode(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	for _, tc := range timeoutCodes {
		if tc.d >= d {
			return tc.code
		}
	}
	return 0
}
