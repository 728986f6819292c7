package capture

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Source supplies mono floating-point samples at SampleRate. ReadFrame
// follows io.Reader semantics: it may return fewer samples than requested
// and returns io.EOF when the input is exhausted.
type Source interface {
	ReadFrame(dst []float32) (int, error)
}

// RawPCMSource reads headerless little-endian signed 16-bit mono PCM.
type RawPCMSource struct {
	r   io.Reader
	buf []byte
}

func NewRawPCMSource(r io.Reader) *RawPCMSource {
	return &RawPCMSource{r: r}
}

func (s *RawPCMSource) ReadFrame(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.r, buf)
	if n == 0 {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	// A trailing odd byte cannot form a sample and is dropped.
	samples := n / 2
	for i := 0; i < samples; i++ {
		dst[i] = DecodeSample(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	}
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return samples, err
}

// NewWAVSource validates a RIFF/WAVE header and positions the reader at the
// start of sample data. Only mono 16-bit PCM at SampleRate is accepted; the
// pipeline does no resampling. Failures wrap ErrDeviceUnavailable.
func NewWAVSource(r io.Reader) (*RawPCMSource, error) {
	src, err := parseWAV(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return src, nil
}

func parseWAV(r io.Reader) (*RawPCMSource, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	// Walk chunks until the data chunk; fmt must come first.
	sawFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too small: %d bytes", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			rate := binary.LittleEndian.Uint32(body[4:8])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 {
				return nil, fmt.Errorf("unsupported WAV format %d, want PCM", format)
			}
			if channels != 1 {
				return nil, fmt.Errorf("unsupported channel count %d, want mono", channels)
			}
			if rate != SampleRate {
				return nil, fmt.Errorf("unsupported sample rate %d, want %d", rate, SampleRate)
			}
			if bits != 16 {
				return nil, fmt.Errorf("unsupported bit depth %d, want 16", bits)
			}
			sawFmt = true

		case "data":
			if !sawFmt {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			return NewRawPCMSource(io.LimitReader(r, int64(size))), nil

		default:
			// Skip unrelated chunks (LIST, fact, cue).
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}
