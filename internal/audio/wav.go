// Package audio provides the pure-audio primitives behind previews,
// auditions, and the replace pipeline: WAV encode/decode, mono mixdown,
// resampling, silence trimming, pitch-preserving stretch, and the
// crossfade splice. Samples are float32 in [-1, 1]; processing math runs
// in float64.
//
// No third-party audio library is used: the ecosystem has no maintained
// pure-Go WAV+DSP package, and the pipeline needs exact, testable sample
// arithmetic more than codec breadth (compressed inputs are converted by
// ffmpeg before they reach this package).
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Wave is decoded PCM audio with interleaved samples.
type Wave struct {
	Samples  []float32 // interleaved, [-1, 1]
	Channels int
	Rate     int
}

// Mono returns a channel-averaged copy of the samples.
func (w *Wave) Mono() []float32 {
	if w.Channels <= 1 {
		out := make([]float32, len(w.Samples))
		copy(out, w.Samples)
		return out
	}
	frames := len(w.Samples) / w.Channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < w.Channels; c++ {
			sum += float64(w.Samples[f*w.Channels+c])
		}
		out[f] = float32(sum / float64(w.Channels))
	}
	return out
}

// Duration returns the clip length in seconds.
func (w *Wave) Duration() float64 {
	if w.Rate <= 0 || w.Channels <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.Channels) / float64(w.Rate)
}

const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// Decode reads a RIFF/WAVE stream. PCM 8/16/24/32-bit and IEEE float
// 32/64-bit payloads are supported; other chunks are skipped.
func Decode(r io.Reader) (*Wave, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE stream")
	}

	var (
		haveFmt       bool
		audioFormat   uint16
		channels      int
		rate          int
		bitsPerSample int
		data          []byte
	)

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, errors.New("fmt chunk too short")
			}
			audioFormat = binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			// WAVE_FORMAT_EXTENSIBLE keeps the real format in the GUID.
			if audioFormat == formatExtensible && len(body) >= 26 {
				audioFormat = binary.LittleEndian.Uint16(body[24:26])
			}
			haveFmt = true
		case "data":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("reading data chunk: %w", err)
			}
			data = body
		default:
			// Chunks are word-aligned; odd sizes carry a pad byte.
			skip := int64(chunkSize)
			if chunkSize%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				if err == io.EOF {
					break
				}
				return nil, fmt.Errorf("skipping %q chunk: %w", chunkID, err)
			}
		}
		if haveFmt && data != nil {
			break
		}
	}

	if !haveFmt {
		return nil, errors.New("missing fmt chunk")
	}
	if data == nil {
		return nil, errors.New("missing data chunk")
	}
	if channels <= 0 || rate <= 0 {
		return nil, fmt.Errorf("invalid wav format: channels=%d rate=%d", channels, rate)
	}

	samples, err := decodeSamples(data, audioFormat, bitsPerSample)
	if err != nil {
		return nil, err
	}

	return &Wave{Samples: samples, Channels: channels, Rate: rate}, nil
}

func decodeSamples(data []byte, audioFormat uint16, bits int) ([]float32, error) {
	switch {
	case audioFormat == formatPCM && bits == 16:
		n := len(data) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			out[i] = float32(v) / 32768
		}
		return out, nil
	case audioFormat == formatPCM && bits == 8:
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil
	case audioFormat == formatPCM && bits == 24:
		n := len(data) / 3
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			b := data[i*3:]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			// sign extend
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			out[i] = float32(v) / 8388608
		}
		return out, nil
	case audioFormat == formatPCM && bits == 32:
		n := len(data) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4:]))
			out[i] = float32(float64(v) / 2147483648)
		}
		return out, nil
	case audioFormat == formatIEEEFloat && bits == 32:
		n := len(data) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil
	case audioFormat == formatIEEEFloat && bits == 64:
		n := len(data) / 8
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported wav encoding: format=%d bits=%d", audioFormat, bits)
	}
}

// DecodeFile reads a WAV file.
func DecodeFile(path string) (*Wave, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// LoadMono reads a WAV file, downmixes to mono by channel averaging, and
// resamples when targetRate differs from the native rate. targetRate 0
// keeps the native rate.
func LoadMono(path string, targetRate int) ([]float32, int, error) {
	wave, err := DecodeFile(path)
	if err != nil {
		return nil, 0, err
	}
	samples := wave.Mono()
	rate := wave.Rate
	if targetRate > 0 && targetRate != rate {
		samples = Resample(samples, rate, targetRate)
		rate = targetRate
	}
	return samples, rate, nil
}

// Encode writes mono samples as 16-bit PCM WAV.
func Encode(w io.Writer, samples []float32, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("invalid sample rate %d", rate)
	}

	dataSize := len(samples) * 2
	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], formatPCM)
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(rate*2)) // byte rate
	binary.LittleEndian.PutUint16(header[32:34], 2)              // block align
	binary.LittleEndian.PutUint16(header[34:36], 16)             // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	buf := make([]byte, dataSize)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(math.Round(v*32767))))
	}
	_, err := w.Write(buf)
	return err
}

// Save writes mono samples as a 16-bit PCM WAV file.
func Save(path string, samples []float32, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, samples, rate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
