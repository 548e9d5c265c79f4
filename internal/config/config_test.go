package config

import (
	"os"
	"testing"
	"time"
)

func clearUpstreamEnv() {
	os.Unsetenv("UPSTREAM_API_KEY")
	os.Unsetenv("GEMINI_API_KEY")
	os.Unsetenv("UPSTREAM_PROVIDER")
}

func TestLoad(t *testing.T) {
	clearUpstreamEnv()
	os.Setenv("UPSTREAM_API_KEY", "test-upstream-key")
	defer os.Unsetenv("UPSTREAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.UpstreamAPIKey != "test-upstream-key" {
		t.Errorf("Expected UpstreamAPIKey 'test-upstream-key', got '%s'", cfg.UpstreamAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	clearUpstreamEnv()

	_, err := Load()
	if err == nil {
		t.Error("Expected error when the upstream key is missing")
	}
}

func TestLoad_GeminiKeyFallback(t *testing.T) {
	clearUpstreamEnv()
	os.Setenv("GEMINI_API_KEY", "gemini-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.UpstreamAPIKey != "gemini-key" {
		t.Errorf("Expected UpstreamAPIKey 'gemini-key', got '%s'", cfg.UpstreamAPIKey)
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	clearUpstreamEnv()
	os.Setenv("UPSTREAM_API_KEY", "k")
	os.Setenv("UPSTREAM_PROVIDER", "carrier-pigeon")
	defer clearUpstreamEnv()

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearUpstreamEnv()
	os.Setenv("UPSTREAM_API_KEY", "test-upstream-key")
	defer os.Unsetenv("UPSTREAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Expected default Port '3000', got '%s'", cfg.Port)
	}
	if cfg.UpstreamProvider != "gemini" {
		t.Errorf("Expected default UpstreamProvider 'gemini', got '%s'", cfg.UpstreamProvider)
	}
	if cfg.RateLimitWindowDuration() != 60*time.Second {
		t.Errorf("Expected default window 60s, got %v", cfg.RateLimitWindowDuration())
	}
	if cfg.RateLimitMax != 10 {
		t.Errorf("Expected default RateLimitMax 10, got %d", cfg.RateLimitMax)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryDelayDuration() != 2*time.Second {
		t.Errorf("Expected default retry delay 2s, got %v", cfg.RetryDelayDuration())
	}
	if cfg.TrustProxy {
		t.Error("Expected default TrustProxy false, got true")
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	clearUpstreamEnv()
	os.Setenv("UPSTREAM_API_KEY", "test-upstream-key")
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("UPSTREAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestLoadClient_Defaults(t *testing.T) {
	os.Unsetenv("RECOGNIZER")
	os.Unsetenv("SYNTHESIZER")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient() failed: %v", err)
	}

	if cfg.AskURL != "http://localhost:3000/api/ask" {
		t.Errorf("Expected default AskURL, got '%s'", cfg.AskURL)
	}
	if cfg.Recognizer != "console" || cfg.Synthesizer != "console" {
		t.Errorf("Expected console adapters, got %s/%s", cfg.Recognizer, cfg.Synthesizer)
	}
	if cfg.RecognitionLanguage != "en-US" {
		t.Errorf("Expected default language 'en-US', got '%s'", cfg.RecognitionLanguage)
	}
	if cfg.StdinIsAudio() {
		t.Error("Expected stdin to carry commands for the console recognizer")
	}
}

func TestLoadClient_DeepgramRequiresKey(t *testing.T) {
	os.Setenv("RECOGNIZER", "deepgram")
	os.Unsetenv("DEEPGRAM_API_KEY")
	defer os.Unsetenv("RECOGNIZER")

	if _, err := LoadClient(); err == nil {
		t.Error("Expected error when DEEPGRAM_API_KEY is missing")
	}
}

func TestLoadClient_CartesiaRequiresOutput(t *testing.T) {
	os.Setenv("SYNTHESIZER", "cartesia")
	os.Setenv("CARTESIA_API_KEY", "k")
	os.Unsetenv("AUDIO_OUT_PATH")
	defer os.Unsetenv("SYNTHESIZER")
	defer os.Unsetenv("CARTESIA_API_KEY")

	if _, err := LoadClient(); err == nil {
		t.Error("Expected error when AUDIO_OUT_PATH is missing")
	}
}

func TestLoadClient_StdinAudioRequiresUI(t *testing.T) {
	os.Setenv("RECOGNIZER", "deepgram")
	os.Setenv("DEEPGRAM_API_KEY", "k")
	os.Setenv("AUDIO_IN_PATH", "-")
	os.Unsetenv("UI_ADDR")
	defer os.Unsetenv("RECOGNIZER")
	defer os.Unsetenv("DEEPGRAM_API_KEY")
	defer os.Unsetenv("AUDIO_IN_PATH")

	if _, err := LoadClient(); err == nil {
		t.Error("Expected error when stdin carries audio and UI_ADDR is empty")
	}

	os.Setenv("UI_ADDR", "127.0.0.1:8090")
	defer os.Unsetenv("UI_ADDR")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient() failed: %v", err)
	}
	if !cfg.StdinIsAudio() {
		t.Error("Expected stdin to carry audio")
	}
}
