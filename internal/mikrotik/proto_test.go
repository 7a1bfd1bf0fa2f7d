package mikrotik

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthRoundTrip(t *testing.T) {
	tests := []struct {
		n     int
		bytes int
	}{
		{0, 1},
		{0x7F, 1},
		{0x80, 2},
		{0x3FFF, 2},
		{0x4000, 3},
		{0x1FFFFF, 3},
		{0x200000, 4},
		{0xFFFFFFF, 4},
		{0x10000000, 5},
	}
	for _, tt := range tests {
		enc := EncodeLength(tt.n)
		assert.Len(t, enc, tt.bytes, "length %#x", tt.n)

		got, err := ReadLength(bufio.NewReader(bytes.NewReader(enc)))
		require.NoError(t, err)
		assert.Equal(t, tt.n, got)
	}
}

func TestSentenceRoundTrip(t *testing.T) {
	long := strings.Repeat("x", 20000)
	words := []string{"/ip/hotspot/user/add", "=name=abc", "=comment=" + long, "=password="}

	var buf bytes.Buffer
	require.NoError(t, WriteSentence(&buf, words...))
	require.NoError(t, WriteSentence(&buf, "!done"))

	r := bufio.NewReader(&buf)
	got, err := ReadSentence(r)
	require.NoError(t, err)
	assert.Equal(t, words, got)

	got, err = ReadSentence(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"!done"}, got)
}

func TestReadLengthRejectsControlByte(t *testing.T) {
	_, err := ReadLength(bufio.NewReader(bytes.NewReader([]byte{0xF8})))
	assert.Error(t, err)
}

func TestParseSentence(t *testing.T) {
	s := ParseSentence([]string{"!re", ".tag=7", "=name=user1", "=comment=a=b", "=empty="})
	assert.Equal(t, "!re", s.Reply)
	assert.Equal(t, "7", s.Tag)
	assert.Equal(t, "user1", s.Attrs["name"])
	assert.Equal(t, "a=b", s.Attrs["comment"])
	v, ok := s.Attrs["empty"]
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"none", 0},
		{"30", 30 * time.Second},
		{"3h", 3 * time.Hour},
		{"1d", 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"1w2d3h4m5s", (9*24+3)*time.Hour + 4*time.Minute + 5*time.Second},
		{"1d02:03:04", 26*time.Hour + 3*time.Minute + 4*time.Second},
		{"00:10:00", 10 * time.Minute},
		{"500ms", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"abc", "3x", "1:2"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "3h", FormatDuration(3*time.Hour))
	assert.Equal(t, "1w2d3h4m5s", FormatDuration((9*24+3)*time.Hour+4*time.Minute+5*time.Second))

	d, err := ParseDuration(FormatDuration(50 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Hour, d)
}

func TestTrapError(t *testing.T) {
	var err error = &TrapError{Message: "failure: already have such name"}
	assert.True(t, IsTrap(err))
	assert.Contains(t, err.Error(), "already have")
	assert.False(t, IsTrap(&FatalError{Message: "session terminated"}))
}
