// Package codec detects and unwraps compressed media uploads.
// Uploaded files may arrive gzip, bzip2, or xz compressed; the sniffer
// inspects magic bytes so callers never depend on the filename suffix.
package codec

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/ulikunitz/xz"
)

// Compression identifies a detected compression wrapper.
type Compression string

// Compression constants.
const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
	CompressionXZ    Compression = "xz"
)

// String returns the string representation of the compression type.
func (c Compression) String() string {
	return string(c)
}

// sniffLen is the number of leading bytes needed to identify all
// supported formats (xz has the longest magic sequence).
const sniffLen = 6

// Detect identifies the compression wrapper from leading magic bytes.
// Short or unrecognized headers report CompressionNone.
func Detect(header []byte) Compression {
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		return CompressionGzip
	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return CompressionBzip2
	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		return CompressionXZ
	}
	return CompressionNone
}

// NewReader wraps r, transparently decompressing gzip, bzip2, or xz
// payloads. The detected compression is returned alongside the reader;
// CompressionNone means the payload passes through untouched. Close
// releases decoder state but never closes the underlying reader.
func NewReader(r io.Reader) (io.ReadCloser, Compression, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF {
		return nil, CompressionNone, fmt.Errorf("peeking header: %w", err)
	}

	switch Detect(header) {
	case CompressionGzip:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, CompressionGzip, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, CompressionGzip, nil

	case CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(br)), CompressionBzip2, nil

	case CompressionXZ:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, CompressionXZ, fmt.Errorf("creating xz reader: %w", err)
		}
		return io.NopCloser(xzr), CompressionXZ, nil
	}

	return io.NopCloser(br), CompressionNone, nil
}

// compressionSuffixes maps filename suffixes to the wrapper they imply.
var compressionSuffixes = map[string]Compression{
	".gz":    CompressionGzip,
	".gzip":  CompressionGzip,
	".bz2":   CompressionBzip2,
	".bzip2": CompressionBzip2,
	".xz":    CompressionXZ,
}

// InnerName strips a recognized compression suffix from an uploaded
// filename, recovering the inner name ("clip.wav.gz" becomes
// "clip.wav"). Unrecognized names are returned unchanged.
func InnerName(name string) (string, Compression) {
	lower := strings.ToLower(name)
	for suffix, comp := range compressionSuffixes {
		if strings.HasSuffix(lower, suffix) && len(name) > len(suffix) {
			return name[:len(name)-len(suffix)], comp
		}
	}
	return name, CompressionNone
}
