package stt

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/perception-voice/internal/observability"
)

// Sink receives finished utterances
type Sink interface {
	Append(text string) bool
}

// Pipeline forwards final transcriptions from a client into a Sink.
// Interim results are only counted.
type Pipeline struct {
	client STTClient
	sink   Sink
	logger zerolog.Logger
}

// NewPipeline creates a pipeline from client to sink
func NewPipeline(client STTClient, sink Sink, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		client: client,
		sink:   sink,
		logger: logger,
	}
}

// Run consumes results until the client's channel is closed or ctx is done.
// It returns the number of utterances the sink accepted.
func (p *Pipeline) Run(ctx context.Context) int {
	results := p.client.GetTranscription()
	appended := 0

	for {
		select {
		case <-ctx.Done():
			return appended
		case result, ok := <-results:
			if !ok {
				return appended
			}
			if result == nil {
				continue
			}
			observability.RecordSTTResult(result.IsFinal)
			if !result.IsFinal {
				continue
			}

			text := strings.TrimSpace(result.Text)
			if text == "" {
				continue
			}
			if p.sink.Append(text) {
				appended++
				p.logger.Debug().
					Float64("confidence", result.Confidence).
					Str("text", text).
					Msg("Transcription appended")
			}
		}
	}
}
