package gpib

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_Accessors(t *testing.T) {
	st := ERR | TIMO | CMPL | CIC
	require.True(t, st.Err())
	require.True(t, st.Timo())
	require.True(t, st.Cmpl())
	require.True(t, st.Cic())
	require.False(t, st.End())

	require.Equal(t, "CIC CMPL TIMO ERR", st.String())
	require.Equal(t, "no flag set", Status(0).String())
}

func TestDecodeStatus_ErrPrecedesCmpl(t *testing.T) {
	// ERR wins no matter which other bits are set.
	for _, st := range []Status{ERR, ERR | CMPL, ERR | CMPL | END | CIC} {
		_, err := decodeStatus("write", st, EBUS, 42)
		require.Error(t, err, "status %v", st)
	}
	// CMPL without ERR is always success.
	for _, st := range []Status{CMPL, CMPL | END, CMPL | CIC | END} {
		n, err := decodeStatus("read", st, 0, 17)
		require.NoError(t, err, "status %v", st)
		require.Equal(t, 17, n)
	}
}

func TestDecodeStatus_TimeoutKind(t *testing.T) {
	_, err := decodeStatus("read", ERR|TIMO|CMPL, EABO, 0)
	require.ErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrBusy)

	// EABO without TIMO is an abort, not a timeout.
	_, err = decodeStatus("read", ERR|CMPL, EABO, 0)
	require.NotErrorIs(t, err, ErrTimeout)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	require.Equal(t, KindDevice, gerr.Kind)
	require.Equal(t, EABO, gerr.Code)
}

func TestDecodeStatus_CodeMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		kind Kind
	}{
		{ENEB, KindUnavailable},
		{EDVR, KindUnavailable},
		{EOIP, KindBusy},
		{ECIC, KindDevice},
		{ENOL, KindDevice},
		{EARG, KindDevice},
		{ECAP, KindDevice},
		{ErrorCode(9), KindUnspecified},  // hole in the enumeration
		{ErrorCode(99), KindUnspecified}, // out of range
	}
	for _, tc := range cases {
		_, err := decodeStatus("op", ERR, tc.code, 0)
		var gerr *Error
		require.True(t, errors.As(err, &gerr), "code %v", tc.code)
		require.Equal(t, tc.kind, gerr.Kind, "code %v", tc.code)
		require.Equal(t, tc.code, gerr.Code)
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindTimeout, Code: EABO, Status: ERR | TIMO | CMPL, Op: "read"}
	require.Contains(t, err.Error(), "timeout")
	require.Contains(t, err.Error(), "EABO")

	err = &Error{Kind: KindClosed, Op: "write"}
	require.Contains(t, err.Error(), "handle closed")
}
