// Package protocol defines the request/response messages exchanged over the
// local socket and their length-prefixed framing.
package protocol

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Command names on the wire
const (
	CommandSet = "set"
	CommandGet = "get"
)

// Response status values
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// ErrMissingCommand is returned when the request has no command field
	ErrMissingCommand = errors.New("missing 'command' field")
	// ErrMissingUID is returned when the request has no uid field
	ErrMissingUID = errors.New("missing 'uid' field")
	// ErrUnknownCommand is wrapped by UnknownCommandError
	ErrUnknownCommand = errors.New("unknown command")
)

// UnknownCommandError carries the offending command name
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command: %s", e.Command)
}

func (e *UnknownCommandError) Unwrap() error {
	return ErrUnknownCommand
}

// Request is the closed set of commands a client may send: SetRequest or GetRequest
type Request interface {
	Command() string
	ClientID() string
	isRequest()
}

// SetRequest moves the client's read marker to now
type SetRequest struct {
	UID string
}

// GetRequest fetches everything since the client's read marker and advances it
type GetRequest struct {
	UID string
}

func (SetRequest) Command() string    { return CommandSet }
func (r SetRequest) ClientID() string { return r.UID }
func (SetRequest) isRequest()         {}

func (GetRequest) Command() string    { return CommandGet }
func (r GetRequest) ClientID() string { return r.UID }
func (GetRequest) isRequest()         {}

type wireRequest struct {
	Command string `json:"command"`
	UID     string `json:"uid"`
}

// DecodeRequest parses a JSON payload into a SetRequest or GetRequest
func DecodeRequest(payload []byte) (Request, error) {
	var wire wireRequest
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}

	if wire.Command == "" {
		return nil, ErrMissingCommand
	}

	switch wire.Command {
	case CommandSet:
		if wire.UID == "" {
			return nil, ErrMissingUID
		}
		return SetRequest{UID: wire.UID}, nil
	case CommandGet:
		if wire.UID == "" {
			return nil, ErrMissingUID
		}
		return GetRequest{UID: wire.UID}, nil
	default:
		return nil, &UnknownCommandError{Command: wire.Command}
	}
}

// EncodeRequest renders a request as its JSON payload
func EncodeRequest(req Request) ([]byte, error) {
	return json.Marshal(wireRequest{Command: req.Command(), UID: req.ClientID()})
}

// Response is the single reply written back on a connection
type Response struct {
	Status  string  `json:"status"`
	Text    *string `json:"text,omitempty"`
	Message string  `json:"message,omitempty"`
}

// OK builds a success response without payload
func OK() Response {
	return Response{Status: StatusOK}
}

// OKText builds a success response carrying a (possibly empty) JSONL payload
func OKText(text string) Response {
	return Response{Status: StatusOK, Text: &text}
}

// Error builds an error response
func Error(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// IsOK reports whether the response signals success
func (r Response) IsOK() bool {
	return r.Status == StatusOK
}

// TextOrEmpty returns the payload or "" when absent
func (r Response) TextOrEmpty() string {
	if r.Text == nil {
		return ""
	}
	return *r.Text
}

// EncodeResponse renders a response as its JSON payload
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses a JSON response payload
func DecodeResponse(payload []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, fmt.Errorf("malformed response: %w", err)
	}
	if resp.Status == "" {
		return Response{}, errors.New("malformed response: missing 'status' field")
	}
	return resp, nil
}
