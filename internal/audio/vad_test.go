package audio

import (
	"testing"
)

func constantSamples(value int16) []int16 {
	samples := make([]int16, 320) // 20ms at 16kHz
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestVADDetector_ProcessFrame_Speech(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 10})
	samples := constantSamples(5000)

	for i := 0; i < 5; i++ {
		isSpeaking, speechStarted, _ := vad.ProcessFrame(samples)
		if !isSpeaking {
			t.Errorf("Expected speech detection on frame %d", i)
		}
		if i == 0 && !speechStarted {
			t.Error("Expected speech to start on first frame")
		}
		if i > 0 && speechStarted {
			t.Errorf("Expected speech start only once, got it on frame %d", i)
		}
	}
}

func TestVADDetector_ProcessFrame_Silence(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 10})
	samples := constantSamples(10)

	for i := 0; i < 15; i++ {
		isSpeaking, _, _ := vad.ProcessFrame(samples)
		if isSpeaking {
			t.Errorf("Expected silence on frame %d", i)
		}
	}
}

func TestVADDetector_ProcessFrame_SpeechToSilence(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 10})

	for i := 0; i < 5; i++ {
		vad.ProcessFrame(constantSamples(5000))
	}

	endedAt := -1
	for i := 0; i < 15; i++ {
		if _, _, ended := vad.ProcessFrame(constantSamples(10)); ended {
			endedAt = i
			break
		}
	}
	if endedAt != 9 {
		t.Errorf("Expected speech to end on the 10th silent frame, got index %d", endedAt)
	}
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after speech ended")
	}
}

func TestVADDetector_Threshold(t *testing.T) {
	low := NewVADDetector(&VADConfig{EnergyThreshold: 100.0, SilenceFrames: 10})
	high := NewVADDetector(&VADConfig{EnergyThreshold: 5000.0, SilenceFrames: 10})
	samples := constantSamples(1000)

	if isSpeaking, _, _ := low.ProcessFrame(samples); !isSpeaking {
		t.Error("Expected low threshold to detect speech")
	}
	if isSpeaking, _, _ := high.ProcessFrame(samples); isSpeaking {
		t.Error("Expected high threshold to not detect speech")
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(nil)
	vad.ProcessFrame(constantSamples(5000))
	if !vad.IsSpeaking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.SilenceFrames != 30 {
		t.Errorf("Expected default SilenceFrames 30, got %d", config.SilenceFrames)
	}
	if config.PrerollFrames != 25 {
		t.Errorf("Expected default PrerollFrames 25, got %d", config.PrerollFrames)
	}
}

func TestSpeechGate_HoldsSilence(t *testing.T) {
	gate := NewSpeechGate(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 3, PrerollFrames: 2})

	for i := 0; i < 5; i++ {
		if out := gate.Process([]byte{byte(i)}, constantSamples(10)); len(out) != 0 {
			t.Errorf("Expected no frames forwarded during silence, got %d", len(out))
		}
	}
	if gate.Speaking() {
		t.Error("Expected gate to be closed")
	}
}

func TestSpeechGate_FlushesPreroll(t *testing.T) {
	gate := NewSpeechGate(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 3, PrerollFrames: 2})

	for i := 0; i < 4; i++ {
		gate.Process([]byte{byte(i)}, constantSamples(10))
	}

	out := gate.Process([]byte{9}, constantSamples(5000))
	if len(out) != 3 {
		t.Fatalf("Expected 2 pre-roll frames plus the speech frame, got %d", len(out))
	}
	// Only the newest pre-roll frames survive
	if out[0][0] != 2 || out[1][0] != 3 || out[2][0] != 9 {
		t.Errorf("Expected frames [2 3 9], got [%d %d %d]", out[0][0], out[1][0], out[2][0])
	}
}

func TestSpeechGate_ForwardsUntilSpeechEnds(t *testing.T) {
	gate := NewSpeechGate(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 2, PrerollFrames: 0})

	if out := gate.Process([]byte{1}, constantSamples(5000)); len(out) != 1 {
		t.Fatalf("Expected speech frame forwarded, got %d", len(out))
	}

	// Both silent frames go out: the first while still speaking, the second ends speech
	for i := 0; i < 2; i++ {
		if out := gate.Process([]byte{2}, constantSamples(10)); len(out) != 1 {
			t.Errorf("Expected trailing silent frame %d forwarded, got %d", i, len(out))
		}
	}
	if out := gate.Process([]byte{3}, constantSamples(10)); len(out) != 0 {
		t.Errorf("Expected silence after speech end to be held, got %d", len(out))
	}
}
