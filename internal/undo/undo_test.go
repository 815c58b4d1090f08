package undo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestParseRecordEmpty(t *testing.T) {
	hash, data, err := ParseRecord("")
	require.NoError(t, err)
	require.Equal(t, ZeroHash, hash)
	require.Empty(t, data.Scalars)
	require.Empty(t, data.Lists)
}

func TestParseRecordZeroHash(t *testing.T) {
	hash, data, err := ParseRecord("0000000000000000:{}")
	require.NoError(t, err)
	require.Equal(t, ZeroHash, hash)
	require.Empty(t, data.Scalars)
	require.Empty(t, data.Lists)
}

func TestParseRecordRoundTrip(t *testing.T) {
	var d Data
	d.AddScalar("FOO", nil, strp("bar"), false)
	d.AddList("PATH", []string{"/opt/bin"}, []string{"/bin"})

	record, err := Format("deadbeefdeadbeef", d)
	require.NoError(t, err)

	hash, got, err := ParseRecord(record)
	require.NoError(t, err)
	require.Equal(t, "deadbeefdeadbeef", hash)

	if diff := cmp.Diff(d, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRecordTolerantOfMissingFields(t *testing.T) {
	hash, data, err := ParseRecord(`deadbeefdeadbeef:{"scalars":[{"name":"FOO"}]}`)
	require.NoError(t, err)
	require.Equal(t, "deadbeefdeadbeef", hash)
	require.Len(t, data.Scalars, 1)
	require.Nil(t, data.Scalars[0].Original)
	require.Nil(t, data.Scalars[0].Current)
	require.Empty(t, data.Lists)
}

func TestParseRecordTolerantOfTrailingFields(t *testing.T) {
	hash, data, err := ParseRecord(`deadbeefdeadbeef:{"scalars":[],"lists":[],"future_field":"ignored"}`)
	require.NoError(t, err)
	require.Equal(t, "deadbeefdeadbeef", hash)
	require.Empty(t, data.Scalars)
	require.Empty(t, data.Lists)
}

func TestParseRecordMalformedHash(t *testing.T) {
	_, _, err := ParseRecord("not-hex-at-all!!:{}")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseRecordMalformedJSON(t *testing.T) {
	_, _, err := ParseRecord("deadbeefdeadbeef:{not json")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFormatDefaultsZeroHash(t *testing.T) {
	record, err := Format("", New())
	require.NoError(t, err)
	require.Equal(t, `0000000000000000:{"scalars":[],"lists":[]}`, record)
}
