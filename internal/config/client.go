package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ClientConfig holds all configuration for the terminal voice client
type ClientConfig struct {
	// Ask proxy endpoint
	AskURL     string `envconfig:"ASK_URL" default:"http://localhost:3000/api/ask"`
	AskTimeout int    `envconfig:"ASK_TIMEOUT" default:"60"` // seconds; covers server-side retries

	// Speech recognition
	Recognizer          string `envconfig:"RECOGNIZER" default:"console"` // console, deepgram
	RecognitionLanguage string `envconfig:"RECOGNITION_LANGUAGE" default:"en-US"`
	NoSpeechTimeout     int    `envconfig:"NO_SPEECH_TIMEOUT" default:"8"` // seconds

	// Deepgram STT API configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// Raw microphone input for deepgram: 16-bit little-endian mono PCM
	AudioInPath       string `envconfig:"AUDIO_IN_PATH" default:"-"` // "-" reads stdin
	AudioInSampleRate int    `envconfig:"AUDIO_IN_SAMPLE_RATE" default:"16000"`

	// Voice activity detection on the input stream
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"40"`      // 20ms frames of silence ending an utterance

	// Speech synthesis
	Synthesizer  string  `envconfig:"SYNTHESIZER" default:"console"` // console, cartesia
	SpeechRate   float64 `envconfig:"SPEECH_RATE" default:"0.9"`
	SpeechPitch  float64 `envconfig:"SPEECH_PITCH" default:"1.0"`
	SpeechVolume float64 `envconfig:"SPEECH_VOLUME" default:"1.0"`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-english"`

	// Synthesized audio sink
	AudioOutPath       string `envconfig:"AUDIO_OUT_PATH" default:""`
	AudioOutEncoding   string `envconfig:"AUDIO_OUT_ENCODING" default:"pcm"` // pcm, mulaw
	AudioOutSampleRate int    `envconfig:"AUDIO_OUT_SAMPLE_RATE" default:"24000"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"500"`            // Reconnection backoff in milliseconds

	// Presentation feed (websocket); disabled when empty
	UIAddr string `envconfig:"UI_ADDR" default:""`

	// Observability configuration
	LogLevel  string `envconfig:"LOG_LEVEL" default:"warn"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"true"`
}

// LoadClient reads the voice client configuration, honouring a .env file
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.AskURL == "" {
		return fmt.Errorf("ASK_URL is required")
	}

	c.Recognizer = strings.ToLower(c.Recognizer)
	switch c.Recognizer {
	case "console":
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when RECOGNIZER=deepgram")
		}
	default:
		return fmt.Errorf("RECOGNIZER must be console or deepgram, got %q", c.Recognizer)
	}

	c.Synthesizer = strings.ToLower(c.Synthesizer)
	switch c.Synthesizer {
	case "console":
	case "cartesia":
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required when SYNTHESIZER=cartesia")
		}
		if c.AudioOutPath == "" {
			return fmt.Errorf("AUDIO_OUT_PATH is required when SYNTHESIZER=cartesia")
		}
	default:
		return fmt.Errorf("SYNTHESIZER must be console or cartesia, got %q", c.Synthesizer)
	}

	if c.StdinIsAudio() && c.UIAddr == "" {
		return fmt.Errorf("UI_ADDR is required when AUDIO_IN_PATH reads audio from stdin")
	}

	switch c.AudioOutEncoding {
	case "pcm", "mulaw":
	default:
		return fmt.Errorf("AUDIO_OUT_ENCODING must be pcm or mulaw, got %q", c.AudioOutEncoding)
	}
	return nil
}

// AskTimeoutDuration returns the end-to-end timeout for one ask request
func (c *ClientConfig) AskTimeoutDuration() time.Duration {
	return time.Duration(c.AskTimeout) * time.Second
}

// NoSpeechTimeoutDuration returns how long a listening session waits for speech
func (c *ClientConfig) NoSpeechTimeoutDuration() time.Duration {
	return time.Duration(c.NoSpeechTimeout) * time.Second
}

// StdinIsAudio reports whether stdin carries raw audio rather than commands
func (c *ClientConfig) StdinIsAudio() bool {
	return c.Recognizer == "deepgram" && c.AudioInPath == "-"
}
