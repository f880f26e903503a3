package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaxiiFormatRoundTrip(t *testing.T) {
	in := time.Date(2016, 12, 25, 12, 30, 59, 444000000, time.UTC)
	s := TaxiiFormat(in)
	require.Equal(t, "2016-12-25T12:30:59.444000Z", s)

	out, err := ParseTimestamp(s)
	require.NoError(t, err)
	require.True(t, in.Equal(out))
}

func TestStixFormatTrimsTrailingZeros(t *testing.T) {
	in := time.Date(2016, 12, 25, 12, 30, 59, 444000000, time.UTC)
	require.Equal(t, "2016-12-25T12:30:59.444Z", StixFormat(in))

	in2 := time.Date(2016, 12, 25, 12, 30, 59, 0, time.UTC)
	require.Equal(t, "2016-12-25T12:30:59.000Z", StixFormat(in2))

	in3 := time.Date(2016, 12, 25, 12, 30, 59, 444123000, time.UTC)
	require.Equal(t, "2016-12-25T12:30:59.444123Z", StixFormat(in3))

	in4 := time.Date(2016, 12, 25, 12, 30, 59, 444120000, time.UTC)
	require.Equal(t, "2016-12-25T12:30:59.44412Z", StixFormat(in4))
}

func TestParseTimestampAcceptsSecondPrecision(t *testing.T) {
	out, err := ParseTimestamp("2016-12-25T12:30:59Z")
	require.NoError(t, err)
	require.Equal(t, 0, out.Nanosecond())
}

func TestEpochFloatRoundTrip(t *testing.T) {
	in := time.Date(2021, 5, 1, 0, 0, 0, 500000000, time.UTC)
	f := ToEpochFloat(in)
	out := FromEpochFloat(f)
	require.WithinDuration(t, in, out, time.Microsecond)
}
