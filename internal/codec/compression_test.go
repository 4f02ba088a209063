package codec

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func gzipBytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func bzip2Bytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = bw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return buf.Bytes()
}

func xzBytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	payload := []byte("RIFF....WAVEfmt test payload")

	tests := []struct {
		name string
		data []byte
		want Compression
	}{
		{"gzip", gzipBytes(t, payload), CompressionGzip},
		{"bzip2", bzip2Bytes(t, payload), CompressionBzip2},
		{"xz", xzBytes(t, payload), CompressionXZ},
		{"plain", payload, CompressionNone},
		{"empty", nil, CompressionNone},
		{"short", []byte{0x1f}, CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.data))
		})
	}
}

func TestNewReader_RoundTrips(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")

	tests := []struct {
		name string
		data []byte
		want Compression
	}{
		{"gzip", gzipBytes(t, payload), CompressionGzip},
		{"bzip2", bzip2Bytes(t, payload), CompressionBzip2},
		{"xz", xzBytes(t, payload), CompressionXZ},
		{"plain", payload, CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, comp, err := NewReader(bytes.NewReader(tt.data))
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, tt.want, comp)

			out, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestNewReader_ShortPayloadPassesThrough(t *testing.T) {
	r, comp, err := NewReader(strings.NewReader("hi"))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, CompressionNone, comp)

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(out))
}

func TestNewReader_CorruptGzipFails(t *testing.T) {
	// Valid magic, garbage body.
	data := []byte{0x1f, 0x8b, 0xff, 0xff, 0xff, 0xff}
	_, comp, err := NewReader(bytes.NewReader(data))
	assert.Error(t, err)
	assert.Equal(t, CompressionGzip, comp)
}

func TestInnerName(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantComp Compression
	}{
		{"clip.wav.gz", "clip.wav", CompressionGzip},
		{"clip.wav.GZ", "clip.wav", CompressionGzip},
		{"audio.mp3.bz2", "audio.mp3", CompressionBzip2},
		{"audio.mp3.bzip2", "audio.mp3", CompressionBzip2},
		{"video.mp4.xz", "video.mp4", CompressionXZ},
		{"plain.wav", "plain.wav", CompressionNone},
		{".gz", ".gz", CompressionNone},
		{"", "", CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, comp := InnerName(tt.in)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantComp, comp)
		})
	}
}
