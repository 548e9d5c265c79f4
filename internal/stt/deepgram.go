package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/audio"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/resilience"
	"github.com/lexiqai/voice-assistant/internal/voice"
)

const (
	readChunkSize     = 3200
	sessionAudioQueue = 256
	defaultFinalize   = 1500 * time.Millisecond
)

// DeepgramConfig configures streaming recognition.
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int

	// NoSpeechTimeout ends a session that hears nothing; zero disables it.
	NoSpeechTimeout time.Duration
	// FinalizeTimeout is how long to wait for final transcripts after the
	// speaker stops.
	FinalizeTimeout time.Duration

	VAD       audio.VADConfig
	Breaker   *resilience.CircuitBreaker
	Reconnect *resilience.ReconnectConfig
}

// streamConn is the part of the Deepgram websocket client a session uses.
// Finalize flushes pending transcripts; Stop sends CloseStream and closes
// the socket.
type streamConn interface {
	Write(p []byte) (int, error)
	Finalize() error
	Stop()
}

type dialFunc func(ctx context.Context, h *messageCallbackHandler) (streamConn, error)

// messageCallbackHandler embeds the SDK's default handler and overrides
// only the methods a one-shot session needs.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	finals chan string
	errs   chan error
}

func newMessageCallbackHandler() *messageCallbackHandler {
	return &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		finals:                 make(chan string, 32),
		errs:                   make(chan error, 1),
	}
}

// Message forwards final transcript segments.
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil || msg.Type != "Results" || !msg.IsFinal {
		return nil
	}
	if len(msg.Channel.Alternatives) == 0 {
		return nil
	}
	m.onFinal(msg.Channel.Alternatives[0].Transcript)
	return nil
}

// Error forwards the first stream error.
func (m *messageCallbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	m.onError(fmt.Errorf("deepgram stream error: %+v", er))
	return nil
}

func (m *messageCallbackHandler) onFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	select {
	case m.finals <- text:
	default:
	}
}

func (m *messageCallbackHandler) onError(err error) {
	select {
	case m.errs <- err:
	default:
	}
}

// DeepgramRecognizer streams microphone PCM to Deepgram for one utterance
// at a time. A single pump goroutine reads the audio source; frames are
// discarded while no session is listening.
type DeepgramRecognizer struct {
	cfg    DeepgramConfig
	source io.Reader
	dial   dialFunc

	pumpOnce sync.Once

	mu        sync.Mutex
	session   *deepgramSession
	sourceErr error

	logger zerolog.Logger
}

type deepgramSession struct {
	events voice.RecognitionEvents
	audio  chan []byte
	stop   chan struct{}
	once   sync.Once
}

func (s *deepgramSession) finish() bool {
	ended := false
	s.once.Do(func() {
		ended = true
		close(s.stop)
	})
	return ended
}

// NewDeepgramRecognizer creates a recognizer reading 16-bit mono PCM from
// source.
func NewDeepgramRecognizer(cfg DeepgramConfig, source io.Reader) *DeepgramRecognizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.VAD.SampleRate == 0 {
		cfg.VAD.SampleRate = cfg.SampleRate
	}
	if cfg.VAD.FrameDuration <= 0 {
		cfg.VAD.FrameDuration = audio.DefaultVADConfig().FrameDuration
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalize
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker("deepgram", 5, 30*time.Second)
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = resilience.DefaultReconnectConfig()
	}

	logger := observability.WithComponent("stt.deepgram")
	if cfg.Reconnect.Logger == nil {
		cfg.Reconnect.Logger = &logger
	}
	if cfg.Reconnect.ShouldRetry == nil {
		cfg.Reconnect.ShouldRetry = isRedialable
	}
	cfg.Breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger.Warn().Str("state", state.String()).Msg("Deepgram circuit breaker state changed")
	})

	r := &DeepgramRecognizer{
		cfg:    cfg,
		source: source,
		logger: logger,
	}
	r.dial = r.dialDeepgram
	return r
}

func (r *DeepgramRecognizer) dialDeepgram(ctx context.Context, h *messageCallbackHandler) (streamConn, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Punctuate:      true,
		InterimResults: false,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     r.cfg.SampleRate,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, r.cfg.APIKey, nil, tOptions, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, resilience.NewRetryableError(errors.New("failed to connect to Deepgram"))
	}
	return client, nil
}

// Start implements voice.Recognizer.
func (r *DeepgramRecognizer) Start(ctx context.Context, events voice.RecognitionEvents) error {
	r.pumpOnce.Do(func() { go r.pump(ctx) })

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sourceErr != nil {
		return voice.NewRecognitionError(voice.RecognitionAborted, fmt.Errorf("audio input closed: %w", r.sourceErr))
	}
	if r.cfg.Breaker.Rejecting() {
		return voice.NewRecognitionError(voice.RecognitionNetwork, resilience.ErrCircuitOpen)
	}

	if r.session != nil {
		r.session.finish()
	}
	s := &deepgramSession{
		events: events,
		audio:  make(chan []byte, sessionAudioQueue),
		stop:   make(chan struct{}),
	}
	r.session = s

	go r.run(ctx, s)
	return nil
}

// Stop implements voice.Recognizer.
func (r *DeepgramRecognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		r.session.finish()
		r.session = nil
	}
}

// pump reads the audio source for the life of the recognizer.
func (r *DeepgramRecognizer) pump(ctx context.Context) {
	framer := audio.NewFramer(r.cfg.VAD.FrameBytes())
	buf := make([]byte, readChunkSize)

	for {
		n, err := r.source.Read(buf)
		if n > 0 {
			observability.RecordAudioBytes("in", int64(n))
			for _, frame := range framer.Push(buf[:n]) {
				r.deliver(frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Error().Err(err).Msg("Audio input failed")
			}
			r.mu.Lock()
			r.sourceErr = err
			s := r.session
			r.mu.Unlock()
			if s != nil {
				close(s.audio)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (r *DeepgramRecognizer) deliver(frame []byte) {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return
	}

	select {
	case s.audio <- frame:
	default:
		r.logger.Warn().Msg("Session audio queue full, dropping frame")
	}
}

func (r *DeepgramRecognizer) clear(s *deepgramSession) {
	r.mu.Lock()
	if r.session == s {
		r.session = nil
	}
	r.mu.Unlock()
}

// run drives one recognition session until it yields a transcript, fails,
// or is stopped. A stopped session reports nothing.
func (r *DeepgramRecognizer) run(ctx context.Context, s *deepgramSession) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := newMessageCallbackHandler()
	var conn streamConn
	err := resilience.Reconnect(sctx, func() error {
		return r.cfg.Breaker.Call(func() error {
			c, err := r.dial(sctx, h)
			if err != nil {
				observability.IncrementCircuitBreakerFailures("deepgram")
				return err
			}
			conn = c
			return nil
		})
	}, r.cfg.Reconnect)
	if err != nil {
		r.fail(s, voice.RecognitionNetwork, err)
		return
	}
	defer conn.Stop()

	vad := audio.NewVADDetector(r.cfg.VAD)
	var heard []string

	var noSpeech <-chan time.Time
	if r.cfg.NoSpeechTimeout > 0 {
		timer := time.NewTimer(r.cfg.NoSpeechTimeout)
		defer timer.Stop()
		noSpeech = timer.C
	}
	var finalize <-chan time.Time

	for {
		select {
		case <-s.stop:
			return

		case <-sctx.Done():
			s.finish()
			r.clear(s)
			return

		case frame, ok := <-s.audio:
			if !ok {
				r.fail(s, voice.RecognitionAborted, io.ErrUnexpectedEOF)
				return
			}
			if finalize != nil {
				continue
			}
			if _, err := conn.Write(frame); err != nil {
				r.cfg.Breaker.RecordResult(false)
				observability.IncrementCircuitBreakerFailures("deepgram")
				r.fail(s, voice.RecognitionNetwork, fmt.Errorf("failed to send audio to Deepgram: %w", err))
				return
			}
			switch vad.Process(frame) {
			case audio.VADSpeechStart:
				noSpeech = nil
				r.logger.Debug().Msg("Speech started")
			case audio.VADSpeechEnd:
				r.logger.Debug().Msg("Speech ended, finalizing")
				if err := conn.Finalize(); err != nil {
					r.logger.Warn().Err(err).Msg("Failed to request Deepgram finalize")
				}
				finalize = time.After(r.cfg.FinalizeTimeout)
			}

		case text := <-h.finals:
			heard = append(heard, text)

		case err := <-h.errs:
			r.cfg.Breaker.RecordResult(false)
			r.fail(s, voice.RecognitionNetwork, err)
			return

		case <-noSpeech:
			r.fail(s, voice.RecognitionNoSpeech, nil)
			return

		case <-finalize:
			drainFinals(h, &heard)
			if len(heard) == 0 {
				r.fail(s, voice.RecognitionNoSpeech, nil)
				return
			}
			if !s.finish() {
				return
			}
			r.clear(s)
			text := strings.Join(heard, " ")
			r.logger.Debug().Int("segments", len(heard)).Msg("Utterance recognized")
			s.events.Result(text)
			s.events.End()
			return
		}
	}
}

// isRedialable keeps redialing through transport failures and stops on
// anything else, such as rejected credentials or an open circuit.
func isRedialable(err error) bool {
	return resilience.IsRetryable(err) || resilience.IsRetryableNetworkError(err)
}

func drainFinals(h *messageCallbackHandler, heard *[]string) {
	for {
		select {
		case text := <-h.finals:
			*heard = append(*heard, text)
		default:
			return
		}
	}
}

func (r *DeepgramRecognizer) fail(s *deepgramSession, kind voice.RecognitionErrorKind, err error) {
	if !s.finish() {
		return
	}
	r.clear(s)

	if kind != voice.RecognitionNoSpeech {
		r.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Recognition failed")
		observability.RecordError("recognition_"+string(kind), "stt")
	}
	s.events.Error(voice.NewRecognitionError(kind, err))
	s.events.End()
}
