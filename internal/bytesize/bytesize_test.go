package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"4096", 4096},
		{"1Ki", 1024},
		{"64Mi", 64 * MiB},
		{"1GiB", GiB},
		{"100MB", 100 * MB},
		{"2k", 2000},
		{"1.5Ki", 1536},
		{" 512 Mi ", 512 * MiB},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "Mi", "12Q", "-5Ki", "1..5Mi"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestString_RoundTrip(t *testing.T) {
	for _, b := range []ByteSize{0, 512, KiB, 64 * MiB, 3 * GiB, 1536} {
		parsed, err := Parse(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("128Mi")))
	assert.Equal(t, 128*MiB, b)

	assert.Error(t, b.UnmarshalText([]byte("nope")))
}
