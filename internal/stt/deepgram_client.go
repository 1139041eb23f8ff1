package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/perception-voice/internal/config"
	"github.com/lexiqai/perception-voice/internal/observability"
	"github.com/lexiqai/perception-voice/internal/resilience"
)

const deepgramService = "deepgram"

// messageCallbackHandler embeds the default handler and overrides Message and Error
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements STTClient using Deepgram's streaming API
type DeepgramClient struct {
	config         *config.Config
	client         *listenClient.WSCallback
	transcript     chan *TranscriptionResult
	mu             sync.RWMutex
	isActive       bool
	closed         bool
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramBreaker creates the circuit breaker shared by every Deepgram session
func NewDeepgramBreaker(cfg *config.Config) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(
		deepgramService,
		cfg.CircuitBreakerMaxFailures,
		cfg.CircuitBreakerResetTimeout,
	)
}

// NewDeepgramClient creates a new Deepgram streaming client. A nil breaker gives the
// client one of its own.
func NewDeepgramClient(cfg *config.Config, breaker *resilience.CircuitBreaker) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())
	if breaker == nil {
		breaker = NewDeepgramBreaker(cfg)
	}

	return &DeepgramClient{
		config:     cfg,
		transcript: make(chan *TranscriptionResult, 100),
		ctx:        ctx,
		cancel:     cancel,
		circuitBreaker: breaker,
		logger: observability.GetLogger().With().Str("component", "stt").Logger(),
	}
}

// NewDeepgramFactory returns a Factory producing Deepgram clients for cfg that all
// report to breaker, so one outage trips it for every ingest session
func NewDeepgramFactory(cfg *config.Config, breaker *resilience.CircuitBreaker) Factory {
	return func() STTClient {
		return NewDeepgramClient(cfg, breaker)
	}
}

// Start begins a new Deepgram streaming transcription session
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("deepgram client is closed")
	}
	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       d.config.AudioEncoding,
		Channels:       1,
		SampleRate:     d.config.AudioSampleRate,
	}
	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleDeepgramMessage,
		errorHandler:           d.handleDeepgramError,
	}

	client, err := listenClient.NewWSUsingCallback(d.ctx, d.config.DeepgramAPIKey, cOptions, tOptions, callback)
	if err != nil {
		d.recordFailure()
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		d.recordFailure()
		return fmt.Errorf("failed to connect to Deepgram")
	}

	d.client = client
	d.isActive = true
	d.circuitBreaker.RecordResult(true)

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Str("encoding", d.config.AudioEncoding).
		Int("sample_rate", d.config.AudioSampleRate).
		Msg("Deepgram streaming client started")
	return nil
}

func (d *DeepgramClient) recordFailure() {
	d.circuitBreaker.RecordResult(false)
	observability.IncrementCircuitBreakerFailures(deepgramService)
}

func (d *DeepgramClient) handleDeepgramError(errorResponse *msginterfaces.ErrorResponse) error {
	d.logger.Error().Interface("response", errorResponse).Msg("Deepgram error")
	d.recordFailure()
	observability.RecordError("deepgram", "stt")

	select {
	case <-d.ctx.Done():
		return nil
	default:
	}

	d.mu.Lock()
	d.isActive = false
	d.mu.Unlock()

	go d.attemptReconnect()
	return nil
}

// handleDeepgramMessage processes messages from Deepgram
func (d *DeepgramClient) handleDeepgramMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			startTime = alt.Words[0].Start
			duration = alt.Words[len(alt.Words)-1].End - startTime
		}

		d.deliver(&TranscriptionResult{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  startTime,
			Duration:   duration,
		})

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Deepgram message")
	}
}

// deliver hands a result to the consumer without blocking the SDK's read loop
func (d *DeepgramClient) deliver(result *TranscriptionResult) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	select {
	case d.transcript <- result:
		d.logger.Debug().
			Bool("final", result.IsFinal).
			Float64("confidence", result.Confidence).
			Str("text", result.Text).
			Msg("Deepgram transcription")
	default:
		d.logger.Warn().Msg("Transcript channel full, dropping transcription")
		observability.RecordError("transcript_dropped", "stt")
	}
}

// SendAudio sends an audio chunk to Deepgram
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram client is not active")
		}

		if _, err := client.Write(audioData); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})

	if err != nil {
		observability.IncrementCircuitBreakerFailures(deepgramService)
	}
	return err
}

// attemptReconnect restarts the session with backoff unless closed or already active
func (d *DeepgramClient) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.Lock()
	if d.isActive {
		d.mu.Unlock()
		return
	}
	if d.client != nil {
		d.client.Stop()
		d.client = nil
	}
	d.mu.Unlock()

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     d.config.ReconnectBackoff,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	if err := resilience.Reconnect(d.ctx, deepgramService, d.Start, reconnectConfig); err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram client")
	}
}

// GetTranscription returns a channel that receives transcription results
func (d *DeepgramClient) GetTranscription() <-chan *TranscriptionResult {
	return d.transcript
}

// Stop finishes the Deepgram streaming session
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Deepgram streaming client stopped")
	return nil
}

// Close stops the session, cancels reconnection and closes the transcript channel
func (d *DeepgramClient) Close() error {
	d.cancel()

	if err := d.Stop(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.transcript)
	}
	return nil
}
