package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIGenerator_Generate(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"test-model",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" hello "}}]}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "test", Model: "test-model", BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	got, err := gen.Generate(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "hello" {
		t.Errorf("Expected hello, got %q", got)
	}
	if gotModel != "test-model" {
		t.Errorf("Expected model test-model, got %q", gotModel)
	}
}

func TestOpenAIGenerator_QuotaErrorIsRetryable(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err = gen.Generate(context.Background(), "q")
	if err == nil {
		t.Fatal("Expected an error")
	}
	if code, ok := sdkStatus(err); !ok || code != http.StatusTooManyRequests {
		t.Errorf("Expected SDK status 429, got %d (ok=%v)", code, ok)
	}
	if !IsRetryable(err) {
		t.Error("Expected a 429 from the SDK to be retryable")
	}
	if calls != 1 {
		t.Errorf("Expected SDK retries to be disabled, got %d calls", calls)
	}
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{}); err == nil {
		t.Error("Expected error for missing api key")
	}
}
