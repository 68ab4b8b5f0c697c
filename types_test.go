package gpib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in   string
		want Address
	}{
		{"GPIB0::1::INSTR", Address{Board: 0, Primary: 1}},
		{"GPIB2::30::INSTR", Address{Board: 2, Primary: 30}},
		{"GPIB0::5", Address{Board: 0, Primary: 5}},
		{"GPIB::5::INSTR", Address{Board: 0, Primary: 5}},
		{"GPIB1::9::2::INSTR", Address{Board: 1, Primary: 9, Secondary: 0x62}},
		{"GPIB0::5::instr", Address{Board: 0, Primary: 5}}, // INSTR is case-insensitive
	}
	for _, tc := range cases {
		got, err := ParseAddress(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	invalid := []string{
		"",
		"GPIB0",
		"TCPIP0::1.2.3.4::INSTR",
		"GPIB0::31::INSTR", // pad out of range
		"GPIB0::-1::INSTR",
		"GPIBx::1::INSTR",
		"GPIB0::1::40::INSTR", // sad out of range
		"GPIB0::1::2::3::INSTR",
	}
	for _, in := range invalid {
		_, err := ParseAddress(in)
		require.ErrorIs(t, err, ErrInvalidAddress, in)
	}
}

func TestAddress_String(t *testing.T) {
	require.Equal(t, "GPIB0::5::INSTR", Address{Primary: 5}.String())
	require.Equal(t, "GPIB1::9::2::INSTR", Address{Board: 1, Primary: 9, Secondary: 0x62}.String())

	// Round trip.
	for _, s := range []string{"GPIB0::5::INSTR", "GPIB3::12::7::INSTR"} {
		addr, err := ParseAddress(s)
		require.NoError(t, err)
		require.Equal(t, s, addr.String())
	}
}

func TestEosMode_Encoding(t *testing.T) {
	require.Equal(t, 0, EosMode{}.mode())
	require.Equal(t, 0x400|int('\n'), EosMode{Char: '\n', Reos: true}.mode())
	require.Equal(t, 0x400|0x800|0x1000|int('\r'), EosMode{Char: '\r', Reos: true, Xeos: true, Bin: true}.mode())
}

func TestTimeoutCode(t *testing.T) {
	cases := []struct {
		d    time.Duration
		code int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Microsecond, 1},
		{10 * time.Microsecond, 1},
		{11 * time.Microsecond, 2},
		{time.Millisecond, 5},
		{time.Second, 11},
		{2 * time.Second, 12},
		{1000 * time.Second, 17},
		{2000 * time.Second, 0}, // beyond the scale: no timeout
	}
	for _, tc := range cases {
		require.Equal(t, tc.code, timeoutCode(tc.d), "duration %v", tc.d)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, time.Second, cfg.Timeout)
	require.Equal(t, 10*time.Millisecond, cfg.PollInterval)

	custom := Config{Timeout: 3 * time.Second, PollInterval: time.Millisecond}.withDefaults()
	require.Equal(t, 3*time.Second, custom.Timeout)
	require.Equal(t, time.Millisecond, custom.PollInterval)

	// Negative timeout means no timeout and survives defaulting.
	require.Equal(t, -time.Nanosecond, Config{Timeout: -time.Nanosecond}.withDefaults().Timeout)
}
