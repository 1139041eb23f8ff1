package protocol

import (
	"errors"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"command":"set","uid":"alice"}`))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if set, ok := req.(SetRequest); !ok || set.UID != "alice" {
		t.Errorf("Expected SetRequest{alice}, got %#v", req)
	}

	req, err = DecodeRequest([]byte(`{"command":"get","uid":"bob","extra":1}`))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if get, ok := req.(GetRequest); !ok || get.UID != "bob" {
		t.Errorf("Expected GetRequest{bob}, got %#v", req)
	}
}

func TestDecodeRequest_Errors(t *testing.T) {
	cases := []struct {
		payload string
		err     error
	}{
		{`{"uid":"a"}`, ErrMissingCommand},
		{`{"command":"set"}`, ErrMissingUID},
		{`{"command":"get","uid":""}`, ErrMissingUID},
		{`{"command":"delete","uid":"a"}`, ErrUnknownCommand},
		{`{"command":"GET","uid":"a"}`, ErrUnknownCommand},
	}

	for _, tc := range cases {
		_, err := DecodeRequest([]byte(tc.payload))
		if !errors.Is(err, tc.err) {
			t.Errorf("DecodeRequest(%s): expected %v, got %v", tc.payload, tc.err, err)
		}
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	for _, payload := range []string{`not json`, `{"command":`, `[1,2]`} {
		if _, err := DecodeRequest([]byte(payload)); err == nil {
			t.Errorf("Expected error for %q", payload)
		}
	}
}

func TestUnknownCommandError(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"command":"stats","uid":"a"}`))

	var unknown *UnknownCommandError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownCommandError, got %v", err)
	}
	if unknown.Command != "stats" {
		t.Errorf("Expected command stats, got %s", unknown.Command)
	}
	if err.Error() != "unknown command: stats" {
		t.Errorf("Expected message 'unknown command: stats', got %q", err.Error())
	}
}

func TestEncodeRequest(t *testing.T) {
	payload, err := EncodeRequest(GetRequest{UID: "c"})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if string(payload) != `{"command":"get","uid":"c"}` {
		t.Errorf("Expected get payload, got %s", payload)
	}
}

func TestEncodeResponse(t *testing.T) {
	cases := []struct {
		resp     Response
		expected string
	}{
		{OK(), `{"status":"ok"}`},
		{OKText(""), `{"status":"ok","text":""}`},
		{OKText("line"), `{"status":"ok","text":"line"}`},
		{Error("bad"), `{"status":"error","message":"bad"}`},
	}

	for _, tc := range cases {
		payload, err := EncodeResponse(tc.resp)
		if err != nil {
			t.Fatalf("EncodeResponse failed: %v", err)
		}
		if string(payload) != tc.expected {
			t.Errorf("Expected %s, got %s", tc.expected, payload)
		}
	}
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"status":"ok","text":""}`))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if !resp.IsOK() || resp.Text == nil || resp.TextOrEmpty() != "" {
		t.Errorf("Expected ok with empty text, got %+v", resp)
	}

	resp, _ = DecodeResponse([]byte(`{"status":"error","message":"nope"}`))
	if resp.IsOK() || resp.Message != "nope" {
		t.Errorf("Expected error response, got %+v", resp)
	}

	if _, err := DecodeResponse([]byte(`{"text":"x"}`)); err == nil {
		t.Error("Expected error for missing status")
	}
}
