package audio

import (
	"fmt"
	"math"
)

// Supported ingest encodings
const (
	EncodingLinear16 = "linear16" // 16-bit signed little-endian PCM
	EncodingMulaw    = "mulaw"    // G.711 PCMU
)

// BytesPerSample returns the encoded width of one sample
func BytesPerSample(encoding string) int {
	if encoding == EncodingMulaw {
		return 1
	}
	return 2
}

// FrameBytes returns the encoded size of a frame of frameMs milliseconds
func FrameBytes(encoding string, sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000 * BytesPerSample(encoding)
}

// DecodeSamples turns an encoded frame into linear samples for level analysis
func DecodeSamples(data []byte, encoding string) ([]int16, error) {
	switch encoding {
	case EncodingLinear16:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
		}
		samples := make([]int16, len(data)/2)
		for i := range samples {
			samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
		}
		return samples, nil

	case EncodingMulaw:
		samples := make([]int16, len(data))
		for i, b := range data {
			samples[i] = mulawToLinear(b)
		}
		return samples, nil

	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	// μ-law stores the complement
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	// step = (mantissa << (segment + 1)) + (33 << segment), minus the bias
	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := step - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
