package stt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClient struct {
	mu      sync.Mutex
	results chan *TranscriptionResult
	audio   [][]byte
	started bool
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{results: make(chan *TranscriptionResult, 10)}
}

func (f *fakeClient) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeClient) SendAudio(audioData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), audioData...))
	return nil
}

func (f *fakeClient) GetTranscription() <-chan *TranscriptionResult {
	return f.results
}

func (f *fakeClient) Stop() error {
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.results)
	}
	return nil
}

type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSink) Append(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return true
}

func TestPipeline_ForwardsFinalResults(t *testing.T) {
	client := newFakeClient()
	sink := &recordingSink{}
	pipeline := NewPipeline(client, sink, zerolog.Nop())

	client.results <- &TranscriptionResult{Text: "hel", IsFinal: false}
	client.results <- &TranscriptionResult{Text: "  hello there ", IsFinal: true}
	client.results <- &TranscriptionResult{Text: "   ", IsFinal: true}
	client.results <- nil
	client.results <- &TranscriptionResult{Text: "general kenobi", IsFinal: true}
	client.Close()

	appended := pipeline.Run(context.Background())
	if appended != 2 {
		t.Errorf("Expected 2 appended utterances, got %d", appended)
	}
	if len(sink.texts) != 2 || sink.texts[0] != "hello there" || sink.texts[1] != "general kenobi" {
		t.Errorf("Expected [hello there, general kenobi], got %v", sink.texts)
	}
}

func TestPipeline_StopsOnContextCancel(t *testing.T) {
	client := newFakeClient()
	pipeline := NewPipeline(client, &recordingSink{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int)
	go func() {
		done <- pipeline.Run(ctx)
	}()

	cancel()
	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("Expected 0 appended utterances, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected pipeline to stop after cancel")
	}
}
