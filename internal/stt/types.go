package stt

// TranscriptionResult represents a transcription result from the recognizer
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates if this is a final transcription (true) or interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds from stream start
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64
}

// STTClient is the interface for streaming speech-to-text clients
type STTClient interface {
	// Start opens a transcription session
	Start() error

	// SendAudio sends an audio chunk to the STT service
	SendAudio(audioData []byte) error

	// GetTranscription returns the channel of transcription results.
	// The channel is closed by Close.
	GetTranscription() <-chan *TranscriptionResult

	// Stop ends the transcription session
	Stop() error

	// Close closes the client and cleans up resources
	Close() error
}

// Factory creates a client for one audio stream
type Factory func() STTClient
