// Package ingest accepts transcript producers over WebSocket. Text frames carry finished
// utterances; binary frames carry raw audio that is transcribed before it reaches the log.
package ingest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/lexiqai/perception-voice/internal/audio"
	"github.com/lexiqai/perception-voice/internal/config"
	"github.com/lexiqai/perception-voice/internal/observability"
	"github.com/lexiqai/perception-voice/internal/stt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Appender receives utterances; false means the text was dropped
type Appender interface {
	Append(text string) bool
}

// TextMessage is the payload of a text frame
type TextMessage struct {
	Text string `json:"text"`
}

// Ack answers every text frame
type Ack struct {
	Status   string `json:"status"`
	Appended bool   `json:"appended"`
	Message  string `json:"message,omitempty"`
}

// Handler upgrades /ingest requests and runs one session per connection
type Handler struct {
	sink     Appender
	cfg      *config.Config
	factory  stt.Factory
	upgrader websocket.Upgrader
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	shutdown bool
}

// NewHandler creates an ingest handler. A nil factory disables audio frames.
func NewHandler(sink Appender, cfg *config.Config, factory stt.Factory) *Handler {
	return &Handler{
		sink:    sink,
		cfg:     cfg,
		factory: factory,
		conns:   make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			// Nil CheckOrigin rejects cross-origin browser requests
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("Failed to upgrade ingest connection")
		return
	}
	defer conn.Close()

	if !h.track(conn) {
		closeWith(conn, websocket.CloseGoingAway, "shutting down")
		return
	}
	defer h.untrack(conn)

	s := newSession(conn, h)
	s.run(r.Context())
}

func (h *Handler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown refuses new sessions, closes open connections and waits for their
// sessions to finish. In-flight transcriptions are still appended.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.shutdown = true
	for conn := range h.conns {
		closeWith(conn, websocket.CloseGoingAway, "shutting down")
		conn.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// session holds the state of one producer connection
type session struct {
	conn      *websocket.Conn
	handler   *Handler
	logger    zerolog.Logger
	encoding  string
	frameSize int
	buffer    *audio.RingBuffer
	gate      *audio.SpeechGate

	sttClient    stt.STTClient
	pipelineDone chan struct{}
}

func newSession(conn *websocket.Conn, h *Handler) *session {
	cfg := h.cfg
	s := &session{
		conn:      conn,
		handler:   h,
		logger:    observability.WithCorrelationID(observability.NewCorrelationID()).With().Str("component", "ingest").Logger(),
		encoding:  cfg.AudioEncoding,
		frameSize: audio.FrameBytes(cfg.AudioEncoding, cfg.AudioSampleRate, cfg.AudioFrameMs),
	}
	if cfg.VADEnabled {
		vadConfig := audio.DefaultVADConfig()
		vadConfig.EnergyThreshold = cfg.VADEnergyThreshold
		vadConfig.SilenceFrames = cfg.VADSilenceFrames
		s.gate = audio.NewSpeechGate(vadConfig)
	}
	return s
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.stopTranscription()

	if s.handler.cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(int64(s.handler.cfg.MaxMessageSize))
	}
	s.logger.Info().Str("remote", s.conn.RemoteAddr().String()).Msg("Ingest connection opened")

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Ingest read error")
			}
			s.logger.Info().Msg("Ingest connection closed")
			return
		}

		switch messageType {
		case websocket.TextMessage:
			observability.RecordIngestBytes("text", len(message))
			if err := s.handleText(message); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to write ack")
				return
			}

		case websocket.BinaryMessage:
			observability.RecordIngestBytes("audio", len(message))
			if !s.handleAudio(ctx, message) {
				return
			}
		}
	}
}

func (s *session) handleText(message []byte) error {
	var msg TextMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return s.conn.WriteJSON(Ack{Status: "error", Message: "invalid JSON"})
	}
	if strings.TrimSpace(msg.Text) == "" {
		return s.conn.WriteJSON(Ack{Status: "error", Message: "empty text"})
	}

	appended := s.handler.sink.Append(msg.Text)
	return s.conn.WriteJSON(Ack{Status: "ok", Appended: appended})
}

// handleAudio frames the chunk and forwards speech to the recognizer.
// It returns false when the connection should be closed.
func (s *session) handleAudio(ctx context.Context, chunk []byte) bool {
	if s.handler.factory == nil {
		s.closeWith(websocket.CloseUnsupportedData, "audio ingest disabled")
		return false
	}
	if s.sttClient == nil {
		if err := s.startTranscription(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to start transcription")
			s.closeWith(websocket.CloseInternalServerErr, "transcription unavailable")
			return false
		}
	}

	if written := s.buffer.Write(chunk); written < len(chunk) {
		s.logger.Warn().Int("dropped", len(chunk)-written).Msg("Audio buffer full, dropping audio")
		observability.RecordError("audio_overflow", "ingest")
	}

	for {
		frame := make([]byte, s.frameSize)
		if !s.buffer.ReadFrame(frame) {
			return true
		}
		s.forward(frame)
	}
}

func (s *session) forward(frame []byte) {
	out := [][]byte{frame}
	if s.gate != nil {
		samples, err := audio.DecodeSamples(frame, s.encoding)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Failed to decode audio frame")
			return
		}
		out = s.gate.Process(frame, samples)
	}

	for _, f := range out {
		if err := s.sttClient.SendAudio(f); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to send audio")
			observability.RecordError("send_audio", "ingest")
			return
		}
	}
}

func (s *session) startTranscription(ctx context.Context) error {
	client := s.handler.factory()
	if err := client.Start(); err != nil {
		client.Close()
		return err
	}

	bufferSize := s.handler.cfg.AudioBufferSize
	if bufferSize <= s.frameSize {
		bufferSize = s.frameSize * 2
	}
	s.buffer = audio.NewRingBuffer(bufferSize + 1)
	s.sttClient = client
	s.pipelineDone = make(chan struct{})

	pipeline := stt.NewPipeline(client, s.handler.sink, s.logger)
	go func() {
		defer close(s.pipelineDone)
		n := pipeline.Run(ctx)
		s.logger.Debug().Int("appended", n).Msg("Transcription pipeline finished")
	}()

	s.logger.Info().Str("encoding", s.encoding).Int("frame_bytes", s.frameSize).Msg("Transcription started")
	return nil
}

// stopTranscription closes the client and lets the pipeline drain what is already delivered
func (s *session) stopTranscription() {
	if s.sttClient == nil {
		return
	}
	if n := s.buffer.Available(); n > 0 {
		s.logger.Debug().Int("bytes", n).Msg("Dropping partial audio frame")
	}
	if err := s.sttClient.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing STT client")
	}
	<-s.pipelineDone
}

func (s *session) closeWith(code int, text string) {
	if err := closeWith(s.conn, code, text); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write close message")
	}
}

func closeWith(conn *websocket.Conn, code int, text string) error {
	msg := websocket.FormatCloseMessage(code, text)
	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
