package capture

import "encoding/binary"

const (
	// SampleRate is the only rate the pipeline speaks.
	SampleRate = 16000

	// FrameSamples is the per-frame window, about 128 ms at 16 kHz. Large
	// enough to keep per-frame overhead low, small enough that a dropped
	// frame is barely audible.
	FrameSamples = 2048
)

// EncodeFrame converts floating-point samples in [-1, 1] to little-endian
// signed 16-bit PCM. Negative samples scale by 32768 and non-negative by
// 32767, truncated toward zero, so both full-scale extremes map exactly.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int32
		if s < 0 {
			v = int32(s * 32768)
		} else {
			v = int32(s * 32767)
		}
		if v < -32768 {
			v = -32768
		} else if v > 32767 {
			v = 32767
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// DecodeSample converts one signed 16-bit sample back to [-1, 1].
func DecodeSample(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}
