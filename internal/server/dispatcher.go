package server

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/perception-voice/internal/observability"
	"github.com/lexiqai/perception-voice/internal/protocol"
	"github.com/lexiqai/perception-voice/internal/transcript"
)

// TranscriptService is the read-marker API the dispatcher drives
type TranscriptService interface {
	Set(uid string) error
	Get(uid string) ([]transcript.Utterance, error)
}

// Dispatcher turns one decoded request into one response
type Dispatcher struct {
	svc TranscriptService
}

// NewDispatcher creates a dispatcher over svc
func NewDispatcher(svc TranscriptService) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// HandlePayload decodes a raw request frame and dispatches it.
// Protocol errors become error responses; nothing escapes to the caller.
func (d *Dispatcher) HandlePayload(logger zerolog.Logger, payload []byte) protocol.Response {
	start := time.Now()

	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		observability.RecordRequest("invalid", protocol.StatusError, time.Since(start))
		logger.Warn().Err(err).Msg("Rejected request")
		return protocol.Error(err.Error())
	}

	resp := d.Dispatch(logger, req)
	observability.RecordRequest(req.Command(), resp.Status, time.Since(start))
	return resp
}

// Dispatch executes a decoded request against the service
func (d *Dispatcher) Dispatch(logger zerolog.Logger, req protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordError("panic", "dispatcher")
			logger.Error().Interface("panic", r).Str("command", req.Command()).Msg("Recovered from panic in dispatcher")
			resp = protocol.Error("internal error")
		}
	}()

	switch r := req.(type) {
	case protocol.SetRequest:
		if err := d.svc.Set(r.UID); err != nil {
			return protocol.Error(err.Error())
		}
		logger.Debug().Str("uid", r.UID).Msg("Set marker")
		return protocol.OK()

	case protocol.GetRequest:
		utterances, err := d.svc.Get(r.UID)
		if err != nil {
			return protocol.Error(err.Error())
		}
		text, err := transcript.FormatJSONL(utterances)
		if err != nil {
			observability.RecordError("encode", "dispatcher")
			return protocol.Error(fmt.Sprintf("failed to encode transcript: %v", err))
		}
		logger.Debug().Str("uid", r.UID).Int("utterances", len(utterances)).Msg("Get since marker")
		return protocol.OKText(text)

	default:
		return protocol.Error(fmt.Sprintf("unknown command: %s", req.Command()))
	}
}
