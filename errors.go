package gpib

import "fmt"

// ErrorCode is the cause of the most recent failure, as reported by the
// bus-control layer (the iberr enumeration). It is only meaningful when the
// ERR bit of the accompanying Status is set.
type ErrorCode int

const (
	EDVR ErrorCode = 0  // system call failed
	ECIC ErrorCode = 1  // board needs to be controller-in-charge, but is not
	ENOL ErrorCode = 2  // write attempted with no listeners addressed
	EADR ErrorCode = 3  // board failed to address itself before I/O
	EARG ErrorCode = 4  // invalid argument to function call
	ESAC ErrorCode = 5  // board needs to be system controller, but is not
	EABO ErrorCode = 6  // I/O aborted, by timeout or device clear
	ENEB ErrorCode = 7  // interface board does not exist
	EDMA ErrorCode = 8  // DMA error
	EOIP ErrorCode = 10 // asynchronous I/O operation already in progress
	ECAP ErrorCode = 11 // board lacks the capability
	EFSO ErrorCode = 12 // file system error
	EBUS ErrorCode = 14 // command bytes timed out on the bus
	ESTB ErrorCode = 15 // serial poll status bytes lost
	ESRQ ErrorCode = 16 // SRQ line stuck asserted
	ETAB ErrorCode = 20 // table problem in device-level call
)

var errorCodeNames = map[ErrorCode]string{
	EDVR: "EDVR (system call failed)",
	ECIC: "ECIC (board is not controller-in-charge)",
	ENOL: "ENOL (no listeners addressed)",
	EADR: "EADR (board failed to address itself)",
	EARG: "EARG (invalid argument)",
	ESAC: "ESAC (board is not system controller)",
	EABO: "EABO (I/O aborted)",
	ENEB: "ENEB (interface board does not exist)",
	EDMA: "EDMA (DMA error)",
	EOIP: "EOIP (asynchronous operation in progress)",
	ECAP: "ECAP (capability missing or disabled)",
	EFSO: "EFSO (file system error)",
	EBUS: "EBUS (bus command timed out)",
	ESTB: "ESTB (serial poll status bytes lost)",
	ESRQ: "ESRQ (SRQ line stuck asserted)",
	ETAB: "ETAB (table problem)",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("iberr %d (unknown)", int(c))
}

// Kind classifies an Error. Every defined ErrorCode maps to exactly one
// kind; codes outside the enumeration map to KindUnspecified.
type Kind int

const (
	KindUnspecified    Kind = iota // unmapped device error
	KindInvalidAddress             // address string could not be parsed
	KindUnavailable                // board or device does not exist
	KindClosed                     // handle used after close
	KindBusy                       // an operation is already in flight
	KindTimeout                    // the bus layer reported TIMO
	KindDevice                     // any other device-reported error
)

var kindNames = map[Kind]string{
	KindUnspecified:    "unspecified device error",
	KindInvalidAddress: "invalid address",
	KindUnavailable:    "device unavailable",
	KindClosed:         "handle closed",
	KindBusy:           "operation in progress",
	KindTimeout:        "timeout",
	KindDevice:         "device error",
}

func (k Kind) String() string { return kindNames[k] }

// Error is the typed result of a failed operation. Status and Code hold the
// diagnostic snapshot taken when the failure was decoded; Code is zero for
// failures that never reached the bus-control layer (parse errors, handle
// misuse).
type Error struct {
	Kind   Kind
	Code   ErrorCode
	Status Status
	Op     string
	Detail string
}

func (e *Error) Error() string {
	msg := "gpib"
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Kind == KindDevice || e.Kind == KindTimeout || e.Kind == KindUnspecified {
		msg += fmt.Sprintf(": %v (status %v)", e.Code, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches errors of the same kind, so callers can test against the kind
// sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Kind sentinels for use with errors.Is. Cancelled asynchronous operations
// do not produce an *Error; they return the context's error instead.
var (
	ErrInvalidAddress = &Error{Kind: KindInvalidAddress}
	ErrUnavailable    = &Error{Kind: KindUnavailable}
	ErrClosed         = &Error{Kind: KindClosed}
	ErrBusy           = &Error{Kind: KindBusy}
	ErrTimeout        = &Error{Kind: KindTimeout}
)

// kindForCode maps an error code to its semantic kind. The mapping is
// total: codes outside the enumeration become KindUnspecified.
func kindForCode(code ErrorCode) Kind {
	switch code {
	case ENEB, EDVR:
		return KindUnavailable
	case EOIP:
		return KindBusy
	case ECIC, ENOL, EADR, EARG, ESAC, EABO, EDMA, ECAP, EFSO, EBUS, ESTB, ESRQ, ETAB:
		return KindDevice
	default:
		return KindUnspecified
	}
}

// decodeStatus interprets the snapshot of a just-completed bus-control
// call. ERR always takes precedence over CMPL; with ERR clear the call
// succeeded and count is the number of bytes transferred. A set TIMO bit
// turns any failure into KindTimeout so that timeouts stay distinguishable
// from other device errors. Pure: no driver state is consulted.
func decodeStatus(op string, st Status, code ErrorCode, count int) (int, error) {
	if !st.Err() {
		return count, nil
	}
	kind := kindForCode(code)
	if st.Timo() {
		kind = KindTimeout
	}
	return 0, &Error{Kind: kind, Code: code, Status: st, Op: op}
}
