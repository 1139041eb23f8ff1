package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end an utterance
	PrerollFrames   int     // Frames kept from before speech onset so first syllables survive
}

// DefaultVADConfig returns a default VAD configuration for 20ms frames
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   30, // 600ms
		PrerollFrames:   25, // 500ms
	}
}

// VADDetector performs energy based Voice Activity Detection
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes an audio frame and returns whether speech is detected
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool
	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// SpeechGate decides which frames are worth sending to the recognizer.
// Silence is held back except for a short pre-roll that is flushed when speech starts.
type SpeechGate struct {
	detector *VADDetector
	preroll  [][]byte
	max      int
}

// NewSpeechGate creates a gate over a fresh detector
func NewSpeechGate(config *VADConfig) *SpeechGate {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &SpeechGate{
		detector: NewVADDetector(config),
		max:      config.PrerollFrames,
	}
}

// Process returns the frames to forward for this input frame, oldest first.
// The returned slices are owned by the caller.
func (g *SpeechGate) Process(frame []byte, samples []int16) [][]byte {
	speaking, started, ended := g.detector.ProcessFrame(samples)

	switch {
	case started:
		out := append(g.preroll, frame)
		g.preroll = nil
		return out
	case speaking, ended:
		// ended: the trailing silent frame still goes out so the recognizer sees the pause
		return [][]byte{frame}
	}

	if g.max > 0 {
		g.preroll = append(g.preroll, frame)
		if len(g.preroll) > g.max {
			g.preroll = g.preroll[1:]
		}
	}
	return nil
}

// Speaking reports whether the gate is currently open
func (g *SpeechGate) Speaking() bool {
	return g.detector.IsSpeaking()
}
