package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/audio"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/resilience"
	"github.com/lexiqai/voice-assistant/internal/voice"
)

const (
	DefaultCartesiaURL     = "https://api.cartesia.ai"
	DefaultCartesiaVersion = "2024-06-10"

	// cartesiaSampleRate is the rate requested from the API.
	cartesiaSampleRate = 24000
	// playbackChunk is how much audio is written per pacing tick.
	playbackChunk = 100 * time.Millisecond
	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// CartesiaConfig configures the Cartesia synthesizer.
type CartesiaConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Version string
	Timeout time.Duration

	// OutputEncoding and OutputSampleRate describe what the audio sink expects.
	OutputEncoding   audio.Encoding
	OutputSampleRate int
	// Realtime paces writes to playback speed so Cancel cuts audio promptly.
	Realtime bool

	Breaker *resilience.CircuitBreaker
}

// cartesiaRequest is the /tts/bytes payload.
type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// APIError is a non-200 response from Cartesia.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cartesia API returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// CartesiaSynthesizer fetches raw PCM from Cartesia and plays it into an
// audio sink such as a FIFO read by a player process.
type CartesiaSynthesizer struct {
	cfg        CartesiaConfig
	out        io.Writer
	httpClient *http.Client
	utter      tracker
	logger     zerolog.Logger
}

// NewCartesiaSynthesizer creates a synthesizer writing encoded audio to out.
func NewCartesiaSynthesizer(cfg CartesiaConfig, out io.Writer) *CartesiaSynthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCartesiaURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultCartesiaVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.OutputEncoding == "" {
		cfg.OutputEncoding = audio.EncodingPCM
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = cartesiaSampleRate
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker("cartesia", 5, 30*time.Second)
	}

	logger := observability.WithComponent("tts.cartesia")
	cfg.Breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger.Warn().Str("state", state.String()).Msg("Cartesia circuit breaker state changed")
	})

	return &CartesiaSynthesizer{
		cfg:        cfg,
		out:        out,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Speak implements voice.Synthesizer.
func (s *CartesiaSynthesizer) Speak(ctx context.Context, text string, opts voice.SpeechOptions, events voice.SpeechEvents) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to speak")
	}
	if s.cfg.Breaker.Rejecting() {
		return fmt.Errorf("cartesia unavailable: %w", resilience.ErrCircuitOpen)
	}

	u := s.utter.replace(ctx, events)
	go s.play(u, text, opts)
	return nil
}

// Cancel implements voice.Synthesizer.
func (s *CartesiaSynthesizer) Cancel() {
	s.utter.cancel()
}

func (s *CartesiaSynthesizer) play(u *utterance, text string, opts voice.SpeechOptions) {
	var pcm []byte
	var err error
	// A cancelled request says nothing about Cartesia's health.
	breakerErr := s.cfg.Breaker.Call(func() error {
		pcm, err = s.synthesize(u.ctx, text, opts.Language)
		if err != nil && u.ctx.Err() == nil {
			observability.IncrementCircuitBreakerFailures("cartesia")
			return err
		}
		return nil
	})
	if err == nil {
		err = breakerErr
	}
	if err != nil {
		if u.ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Speech synthesis failed")
			observability.RecordError("synthesis", "tts")
		}
		s.utter.fail(u, err)
		return
	}

	encoded, err := audio.Transcode(pcm, cartesiaSampleRate, s.cfg.OutputSampleRate, s.cfg.OutputEncoding, volumeGain(opts.Volume))
	if err != nil {
		s.utter.fail(u, fmt.Errorf("failed to convert audio: %w", err))
		return
	}

	if u.ctx.Err() != nil {
		return
	}
	u.events.Started()

	if err := s.write(u.ctx, encoded); err != nil {
		if u.ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Audio output failed")
		}
		s.utter.fail(u, err)
		return
	}

	s.logger.Debug().
		Int("pcm_bytes", len(pcm)).
		Int("out_bytes", len(encoded)).
		Msg("Utterance played")
	s.utter.complete(u)
}

func (s *CartesiaSynthesizer) synthesize(ctx context.Context, text, language string) ([]byte, error) {
	reqBody := cartesiaRequest{
		ModelID:    s.cfg.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: s.cfg.VoiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: cartesiaSampleRate,
		},
		Language: cartesiaLanguage(language),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/tts/bytes", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.cfg.APIKey)
	req.Header.Set("Cartesia-Version", s.cfg.Version)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio")
	}
	if len(pcm)%audio.BytesPerSample != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}

// write plays encoded audio into the sink in fixed chunks, checking for
// cancellation between chunks.
func (s *CartesiaSynthesizer) write(ctx context.Context, encoded []byte) error {
	chunk := s.cfg.OutputEncoding.BytesPerSecond(s.cfg.OutputSampleRate) * int(playbackChunk/time.Millisecond) / 1000
	framer := audio.NewFramer(chunk)
	frames := framer.Push(encoded)
	if rest := framer.Flush(); rest != nil {
		frames = append(frames, rest)
	}

	var ticker *time.Ticker
	if s.cfg.Realtime {
		ticker = time.NewTicker(playbackChunk)
		defer ticker.Stop()
	}

	for i, f := range frames {
		if ticker != nil && i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.out.Write(f)
		observability.RecordAudioBytes("out", int64(n))
		if err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}
	}
	return nil
}

// volumeGain maps a 0..1 volume to linear gain.
func volumeGain(volume float64) float64 {
	switch {
	case volume <= 0:
		return 0
	case volume > 1:
		return 1
	default:
		return volume
	}
}

// cartesiaLanguage reduces a BCP 47 tag to the two-letter code the API takes.
func cartesiaLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return tag
}
