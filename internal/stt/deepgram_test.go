package stt

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/lexiqai/voice-assistant/internal/audio"
	"github.com/lexiqai/voice-assistant/internal/resilience"
	"github.com/lexiqai/voice-assistant/internal/voice"
)

// fakeStream stands in for the Deepgram websocket. It reports transcript,
// or streamErr, once the first frame arrives.
type fakeStream struct {
	h          *messageCallbackHandler
	transcript string
	streamErr  error

	mu        sync.Mutex
	frames    int
	finalized int
	stopped   int
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.frames++
	first := f.frames == 1
	f.mu.Unlock()

	if first && f.transcript != "" {
		f.h.onFinal(f.transcript)
	}
	if first && f.streamErr != nil {
		f.h.onError(f.streamErr)
	}
	return len(p), nil
}

func (f *fakeStream) Finalize() error {
	f.mu.Lock()
	f.finalized++
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeStream) counts() (finalized, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized, f.stopped
}

// waitStopped waits for the session goroutine to close the stream.
func waitStopped(t *testing.T, f *fakeStream) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if _, stopped := f.counts(); stopped > 0 {
			if stopped != 1 {
				t.Errorf("Expected stream stopped once, got %d", stopped)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected the stream to be stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dialStream(stream *fakeStream) dialFunc {
	return func(ctx context.Context, h *messageCallbackHandler) (streamConn, error) {
		stream.h = h
		return stream, nil
	}
}

func testDeepgramConfig() DeepgramConfig {
	return DeepgramConfig{
		SampleRate:      16000,
		FinalizeTimeout: 20 * time.Millisecond,
		VAD: audio.VADConfig{
			EnergyThreshold: 500,
			SilenceFrames:   3,
			SampleRate:      16000,
			FrameDuration:   20 * time.Millisecond,
		},
		Breaker: resilience.NewCircuitBreaker("deepgram-test", 5, time.Minute),
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: 2,
			Backoff:     time.Millisecond,
			Multiplier:  1,
			MaxBackoff:  time.Millisecond,
		},
	}
}

func frame(cfg DeepgramConfig, level int16) []byte {
	samples := make([]int16, cfg.VAD.FrameBytes()/audio.BytesPerSample)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = level
		} else {
			samples[i] = -level
		}
	}
	return audio.EncodePCM16(samples)
}

func TestDeepgramRecognizer_Utterance(t *testing.T) {
	cfg := testDeepgramConfig()
	src, w := io.Pipe()
	defer w.Close()

	r := NewDeepgramRecognizer(cfg, src)
	stream := &fakeStream{transcript: "what is the weather"}
	r.dial = dialStream(stream)

	events := newEventRecorder()
	if err := r.Start(context.Background(), events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	go func() {
		for i := 0; i < 5; i++ {
			w.Write(frame(cfg, 4000))
		}
		for i := 0; i < 5; i++ {
			w.Write(frame(cfg, 0))
		}
	}()

	ev := events.next(t)
	if ev.kind != "result" {
		t.Fatalf("Expected result, got %+v", ev)
	}
	if ev.text != "what is the weather" {
		t.Errorf("Expected transcript, got %q", ev.text)
	}
	if ev := events.next(t); ev.kind != "end" {
		t.Errorf("Expected end, got %q", ev.kind)
	}

	waitStopped(t, stream)
	if finalized, _ := stream.counts(); finalized != 1 {
		t.Errorf("Expected one finalize request, got %d", finalized)
	}
}

func TestDeepgramRecognizer_SilenceWithoutTranscript(t *testing.T) {
	cfg := testDeepgramConfig()
	src, w := io.Pipe()
	defer w.Close()

	r := NewDeepgramRecognizer(cfg, src)
	stream := &fakeStream{}
	r.dial = dialStream(stream)

	events := newEventRecorder()
	r.Start(context.Background(), events)

	go func() {
		w.Write(frame(cfg, 4000))
		for i := 0; i < 4; i++ {
			w.Write(frame(cfg, 0))
		}
	}()

	ev := events.next(t)
	if ev.kind != "error" || ev.err.Kind != voice.RecognitionNoSpeech {
		t.Fatalf("Expected no_speech error, got %+v", ev)
	}
	if ev := events.next(t); ev.kind != "end" {
		t.Errorf("Expected end, got %q", ev.kind)
	}
	waitStopped(t, stream)
}

func TestDeepgramRecognizer_NoSpeechTimeout(t *testing.T) {
	cfg := testDeepgramConfig()
	cfg.NoSpeechTimeout = 30 * time.Millisecond
	src, w := io.Pipe()
	defer w.Close()

	r := NewDeepgramRecognizer(cfg, src)
	stream := &fakeStream{}
	r.dial = dialStream(stream)

	events := newEventRecorder()
	r.Start(context.Background(), events)

	ev := events.next(t)
	if ev.kind != "error" || ev.err.Kind != voice.RecognitionNoSpeech {
		t.Fatalf("Expected no_speech error, got %+v", ev)
	}
	events.next(t)
	waitStopped(t, stream)
}

func TestDeepgramRecognizer_StreamErrorClosesStream(t *testing.T) {
	cfg := testDeepgramConfig()
	src, w := io.Pipe()
	defer w.Close()

	r := NewDeepgramRecognizer(cfg, src)
	stream := &fakeStream{streamErr: errors.New("socket dropped")}
	r.dial = dialStream(stream)

	events := newEventRecorder()
	r.Start(context.Background(), events)
	go w.Write(frame(cfg, 4000))

	ev := events.next(t)
	if ev.kind != "error" || ev.err.Kind != voice.RecognitionNetwork {
		t.Fatalf("Expected network error, got %+v", ev)
	}
	events.next(t)
	waitStopped(t, stream)
}

func TestDeepgramRecognizer_DialFailure(t *testing.T) {
	cfg := testDeepgramConfig()
	src, w := io.Pipe()
	defer w.Close()

	r := NewDeepgramRecognizer(cfg, src)
	var mu sync.Mutex
	dials := 0
	r.dial = func(ctx context.Context, h *messageCallbackHandler) (streamConn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	events := newEventRecorder()
	r.Start(context.Background(), events)

	ev := events.next(t)
	if ev.kind != "error" || ev.err.Kind != voice.RecognitionNetwork {
		t.Fatalf("Expected network error, got %+v", ev)
	}
	events.next(t)

	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Errorf("Expected 2 dial attempts, got %d", dials)
	}
}

func TestDeepgramRecognizer_DialRejectedIsNotRetried(t *testing.T) {
	cfg := testDeepgramConfig()
	src, w := io.Pipe()
	defer w.Close()

	r := NewDeepgramRecognizer(cfg, src)
	var mu sync.Mutex
	dials := 0
	r.dial = func(ctx context.Context, h *messageCallbackHandler) (streamConn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("401 unauthorized")
	}

	events := newEventRecorder()
	r.Start(context.Background(), events)

	ev := events.next(t)
	if ev.kind != "error" || ev.err.Kind != voice.RecognitionNetwork {
		t.Fatalf("Expected network error, got %+v", ev)
	}
	events.next(t)

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("Expected a single dial attempt, got %d", dials)
	}
}

func TestIsRedialable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("dial tcp: connection refused"), true},
		{resilience.NewRetryableError(errors.New("failed to connect to Deepgram")), true},
		{errors.New("401 unauthorized"), false},
		{resilience.ErrCircuitOpen, false},
	}
	for _, tt := range tests {
		if got := isRedialable(tt.err); got != tt.want {
			t.Errorf("isRedialable(%v): expected %v, got %v", tt.err, tt.want, got)
		}
	}
}

func TestDeepgramRecognizer_OpenBreakerRejectsStart(t *testing.T) {
	cfg := testDeepgramConfig()
	cfg.Breaker = resilience.NewCircuitBreaker("deepgram-test", 1, time.Minute)
	cfg.Breaker.RecordResult(false)

	src, w := io.Pipe()
	defer w.Close()

	r := NewDeepgramRecognizer(cfg, src)
	err := r.Start(context.Background(), newEventRecorder())

	var re *voice.RecognitionError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RecognitionError, got %v", err)
	}
	if re.Kind != voice.RecognitionNetwork {
		t.Errorf("Expected network kind, got %s", re.Kind)
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Error("Expected ErrCircuitOpen in the chain")
	}
}

func TestDeepgramRecognizer_SourceClosed(t *testing.T) {
	cfg := testDeepgramConfig()
	src, w := io.Pipe()

	r := NewDeepgramRecognizer(cfg, src)
	r.dial = func(ctx context.Context, h *messageCallbackHandler) (streamConn, error) {
		return &fakeStream{h: h}, nil
	}

	events := newEventRecorder()
	r.Start(context.Background(), events)
	w.Close()

	ev := events.next(t)
	if ev.kind != "error" || ev.err.Kind != voice.RecognitionAborted {
		t.Fatalf("Expected aborted error, got %+v", ev)
	}
	events.next(t)

	err := r.Start(context.Background(), newEventRecorder())
	var re *voice.RecognitionError
	if !errors.As(err, &re) || re.Kind != voice.RecognitionAborted {
		t.Errorf("Expected aborted error from Start after input closed, got %v", err)
	}
}

func TestDeepgramRecognizer_StopIsSilent(t *testing.T) {
	cfg := testDeepgramConfig()
	cfg.NoSpeechTimeout = 30 * time.Millisecond
	src, w := io.Pipe()
	defer w.Close()

	r := NewDeepgramRecognizer(cfg, src)
	stream := &fakeStream{}
	r.dial = dialStream(stream)

	events := newEventRecorder()
	r.Start(context.Background(), events)
	r.Stop()

	events.expectQuiet(t, 80*time.Millisecond)
	waitStopped(t, stream)
}

func TestMessageCallbackHandler_FinalsOnly(t *testing.T) {
	h := newMessageCallbackHandler()

	interim := &msginterfaces.MessageResponse{Type: "Results", IsFinal: false}
	interim.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: "partial"}}
	h.Message(interim)

	final := &msginterfaces.MessageResponse{Type: "Results", IsFinal: true}
	final.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: " done "}}
	h.Message(final)

	blank := &msginterfaces.MessageResponse{Type: "Results", IsFinal: true}
	blank.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: "  "}}
	h.Message(blank)

	select {
	case text := <-h.finals:
		if text != "done" {
			t.Errorf("Expected %q, got %q", "done", text)
		}
	default:
		t.Fatal("Expected a final transcript")
	}
	select {
	case text := <-h.finals:
		t.Errorf("Expected only one final, got extra %q", text)
	default:
	}
}
