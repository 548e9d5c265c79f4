package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-assistant/internal/askclient"
	"github.com/lexiqai/voice-assistant/internal/audio"
	"github.com/lexiqai/voice-assistant/internal/config"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/resilience"
	"github.com/lexiqai/voice-assistant/internal/stt"
	"github.com/lexiqai/voice-assistant/internal/tts"
	"github.com/lexiqai/voice-assistant/internal/ui"
	"github.com/lexiqai/voice-assistant/internal/voice"
)

// errQuit ends the session at the user's request.
var errQuit = errors.New("quit")

const msgUnsupported = "Voice input or output is not available in this environment."

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the conversation; logs go to stderr.
	observability.InitLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		logger.Error().Err(err).Msg("Voice client failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, stdin io.Reader, stdout io.Writer) error {
	logger := observability.WithComponent("voice-client")

	rec, console, closeIn, err := newRecognizer(cfg, stdin)
	if err != nil {
		return err
	}
	defer closeIn()

	syn, closeOut, err := newSynthesizer(cfg, stdout)
	if err != nil {
		return err
	}
	defer closeOut()

	ctrl, err := voice.New(voice.Options{
		Recognizer:  rec,
		Synthesizer: syn,
		Asker:       askclient.New(cfg.AskURL, cfg.AskTimeoutDuration()),
		AskTimeout:  cfg.AskTimeoutDuration(),
		Speech: voice.SpeechOptions{
			Language: cfg.RecognitionLanguage,
			Rate:     cfg.SpeechRate,
			Pitch:    cfg.SpeechPitch,
			Volume:   cfg.SpeechVolume,
		},
	})
	if errors.Is(err, voice.ErrCapabilityUnsupported) {
		fmt.Fprintln(stdout, msgUnsupported)
		return err
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("session_id", ctrl.SessionID()).
		Str("recognizer", cfg.Recognizer).
		Str("synthesizer", cfg.Synthesizer).
		Str("ask_url", cfg.AskURL).
		Msg("Voice client starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(gctx)
	})

	snapshots, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	r := newRenderer(stdout, cfg.Synthesizer != "console")
	g.Go(func() error {
		r.run(gctx, snapshots)
		return nil
	})

	if cfg.UIAddr != "" {
		g.Go(func() error {
			logger.Info().Str("addr", cfg.UIAddr).Msg("Presentation feed listening")
			return ui.Serve(gctx, cfg.UIAddr, ui.NewHandler(ui.NewFeed(ctrl), true))
		})
	}

	if !cfg.StdinIsAudio() {
		var f feeder
		if console != nil {
			f = console
		}
		printHelp(stdout, f != nil)
		lines := scanLines(stdin)
		g.Go(func() error {
			return commandLoop(gctx, ctrl, f, lines)
		})
	}

	err = g.Wait()
	if errors.Is(err, errQuit) {
		err = nil
	}
	logger.Info().Msg("Voice client exited")
	return err
}

// session is the part of the controller the command loop drives.
type session interface {
	Current() voice.Snapshot
	StartListening()
	StopListening()
	StopSpeaking()
	Reset()
}

// feeder receives typed utterances.
type feeder interface {
	Feed(text string)
}

// commandLoop maps typed lines to controller commands. With a typing
// recognizer any other text is asked as a question; otherwise a blank line
// starts listening.
func commandLoop(ctx context.Context, s session, f feeder, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := handleLine(s, f, strings.TrimSpace(line)); err != nil {
				return err
			}
		}
	}
}

func handleLine(s session, f feeder, line string) error {
	switch strings.ToLower(line) {
	case "quit", "exit":
		return errQuit
	case "stop":
		s.StopListening()
		s.StopSpeaking()
		return nil
	case "reset":
		s.Reset()
		return nil
	case "", "listen":
		if f == nil {
			s.StartListening()
		}
		return nil
	}

	if f == nil {
		return nil
	}
	switch s.Current().State {
	case voice.StateIdle:
		s.StartListening()
		f.Feed(line)
	case voice.StateListening:
		f.Feed(line)
	}
	return nil
}

func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func printHelp(out io.Writer, typing bool) {
	if typing {
		fmt.Fprintln(out, "Type a question and press enter. Commands: stop, reset, quit.")
		return
	}
	fmt.Fprintln(out, "Press enter to speak. Commands: stop, reset, quit.")
}

func newBreaker(cfg *config.ClientConfig, name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
}

// newRecognizer returns the recognizer, the typing recognizer when one is
// in use, and a cleanup func.
func newRecognizer(cfg *config.ClientConfig, stdin io.Reader) (voice.Recognizer, *stt.ConsoleRecognizer, func(), error) {
	if cfg.Recognizer != "deepgram" {
		r := stt.NewConsoleRecognizer(cfg.NoSpeechTimeoutDuration())
		return r, r, func() {}, nil
	}

	source, closeIn := stdin, func() {}
	if cfg.AudioInPath != "-" {
		f, err := os.Open(cfg.AudioInPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open audio input: %w", err)
		}
		source, closeIn = f, func() { f.Close() }
	}

	vad := audio.DefaultVADConfig()
	vad.EnergyThreshold = cfg.VADEnergyThreshold
	vad.SilenceFrames = cfg.VADSilenceFrames
	vad.SampleRate = cfg.AudioInSampleRate

	rec := stt.NewDeepgramRecognizer(stt.DeepgramConfig{
		APIKey:          cfg.DeepgramAPIKey,
		Model:           cfg.DeepgramModel,
		Language:        cfg.RecognitionLanguage,
		SampleRate:      cfg.AudioInSampleRate,
		NoSpeechTimeout: cfg.NoSpeechTimeoutDuration(),
		VAD:             vad,
		Breaker:         newBreaker(cfg, "deepgram"),
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  5 * time.Second,
		},
	}, source)
	return rec, nil, closeIn, nil
}

func newSynthesizer(cfg *config.ClientConfig, stdout io.Writer) (voice.Synthesizer, func(), error) {
	if cfg.Synthesizer != "cartesia" {
		s := tts.NewConsoleSynthesizer(stdout, tts.DefaultWordDelay)
		s.Prefix = "Assistant: "
		return s, func() {}, nil
	}

	enc, err := audio.ParseEncoding(cfg.AudioOutEncoding)
	if err != nil {
		return nil, nil, err
	}
	// A FIFO blocks here until a player opens the read end.
	f, err := os.OpenFile(cfg.AudioOutPath, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audio output: %w", err)
	}

	s := tts.NewCartesiaSynthesizer(tts.CartesiaConfig{
		APIKey:           cfg.CartesiaAPIKey,
		VoiceID:          cfg.CartesiaVoiceID,
		ModelID:          cfg.CartesiaModelID,
		OutputEncoding:   enc,
		OutputSampleRate: cfg.AudioOutSampleRate,
		Realtime:         true,
		Breaker:          newBreaker(cfg, "cartesia"),
	}, f)
	return s, func() { f.Close() }, nil
}
