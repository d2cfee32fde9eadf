package identcatalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumString(t *testing.T) {
	// BLAKE3 hash of empty string
	c := ChecksumBytes([]byte{})
	expected := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	require.Equal(t, expected, c.String())
}

func TestChecksumIsZero(t *testing.T) {
	var zero Checksum
	require.True(t, zero.IsZero())

	c := ChecksumBytes([]byte("test"))
	require.False(t, c.IsZero())
}

func TestChecksumMarshalUnmarshal(t *testing.T) {
	c := ChecksumBytes([]byte("catalog"))

	text, err := c.MarshalText()
	require.NoError(t, err)

	var got Checksum
	require.NoError(t, got.UnmarshalText(text))
	require.Equal(t, c, got)
}

func TestParseChecksumRejectsBadInput(t *testing.T) {
	_, err := ParseChecksum("short")
	require.Error(t, err)

	_, err = ParseChecksum(strings.Repeat("zz", ChecksumSize))
	require.Error(t, err)
}

func TestChecksumReader(t *testing.T) {
	data := []byte("some ident payload")
	c, n, err := ChecksumReader(strings.NewReader(string(data)))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, ChecksumBytes(data), c)
}
