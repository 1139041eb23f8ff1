package audio

import (
	"math"
	"testing"
)

func TestDecodeSamples_Linear16(t *testing.T) {
	data := []byte{0x00, 0x10, 0xFF, 0xFF, 0x00, 0x80}

	samples, err := DecodeSamples(data, EncodingLinear16)
	if err != nil {
		t.Fatalf("DecodeSamples failed: %v", err)
	}
	expected := []int16{4096, -1, -32768}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}
}

func TestDecodeSamples_Linear16OddLength(t *testing.T) {
	if _, err := DecodeSamples([]byte{1, 2, 3}, EncodingLinear16); err == nil {
		t.Error("Expected error for odd length PCM data")
	}
}

func TestDecodeSamples_Mulaw(t *testing.T) {
	// 0xFF and 0x7F are the two encodings of silence
	samples, err := DecodeSamples([]byte{0xFF, 0x7F, 0x00, 0x80}, EncodingMulaw)
	if err != nil {
		t.Fatalf("DecodeSamples failed: %v", err)
	}
	if samples[0] != 0 || samples[1] != 0 {
		t.Errorf("Expected silence to decode to 0, got %d and %d", samples[0], samples[1])
	}
	if samples[2] != -8031 {
		t.Errorf("Expected 0x00 to decode to -8031, got %d", samples[2])
	}
	if samples[3] != 8031 {
		t.Errorf("Expected 0x80 to decode to 8031, got %d", samples[3])
	}
}

func TestDecodeSamples_Unsupported(t *testing.T) {
	if _, err := DecodeSamples([]byte{1, 2}, "opus"); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}

func TestFrameBytes(t *testing.T) {
	if n := FrameBytes(EncodingLinear16, 16000, 20); n != 640 {
		t.Errorf("Expected 640 bytes for 20ms linear16 at 16kHz, got %d", n)
	}
	if n := FrameBytes(EncodingMulaw, 8000, 20); n != 160 {
		t.Errorf("Expected 160 bytes for 20ms mulaw at 8kHz, got %d", n)
	}
}

func TestCalculateRMS(t *testing.T) {
	samples := []int16{1000, -1000, 1000, -1000}
	rms := CalculateRMS(samples)
	if math.Abs(rms-1000.0) > 0.01 {
		t.Errorf("Expected RMS 1000, got %f", rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0 for empty samples, got %f", rms)
	}
}
