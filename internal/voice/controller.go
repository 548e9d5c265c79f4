// Package voice coordinates one spoken conversation: listening, asking,
// and speaking the answer back, one activity at a time.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/observability"
)

const (
	eventQueueSize      = 64
	subscriberQueueSize = 64
)

// Options configures a Controller.
type Options struct {
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Asker       Asker
	Speech      SpeechOptions
	// AskTimeout bounds one ask request; zero means no bound.
	AskTimeout time.Duration
}

// Controller is the voice session state machine. All state is owned by the
// goroutine running Run; every other method posts an event to it.
type Controller struct {
	rec    Recognizer
	syn    Synthesizer
	asker  Asker
	speech SpeechOptions

	askTimeout time.Duration

	events chan any
	done   chan struct{}

	// Loop-owned state.
	state      State
	transcript []Turn
	lastErr    string
	seq        uint64
	op         uint64
	cancelAsk  context.CancelFunc

	mu      sync.Mutex
	current Snapshot
	subs    map[chan Snapshot]struct{}

	sessionID string
	logger    zerolog.Logger
	runOnce   sync.Once
}

// Commands from the user.
type (
	startListening struct{}
	stopListening  struct{}
	stopSpeaking   struct{}
	reset          struct{}
)

// Adapter completions, tagged with the operation that produced them.
type (
	recognitionResult struct {
		op   uint64
		text string
	}
	recognitionFailed struct {
		op  uint64
		err *RecognitionError
	}
	recognitionEnded struct{ op uint64 }
	answerDone       struct {
		op   uint64
		text string
		err  error
	}
	speechStarted struct{ op uint64 }
	speechEnded   struct{ op uint64 }
	speechFailed  struct {
		op  uint64
		err error
	}
	barrier struct{ done chan struct{} }
)

// New creates a controller in the idle state. It fails with
// ErrCapabilityUnsupported when either speech capability is missing.
func New(opts Options) (*Controller, error) {
	if opts.Recognizer == nil {
		return nil, fmt.Errorf("%w: no speech recognizer available", ErrCapabilityUnsupported)
	}
	if opts.Synthesizer == nil {
		return nil, fmt.Errorf("%w: no speech synthesizer available", ErrCapabilityUnsupported)
	}
	if opts.Asker == nil {
		return nil, errors.New("voice: asker is required")
	}
	if opts.Speech == (SpeechOptions{}) {
		opts.Speech = DefaultSpeechOptions()
	}

	sessionID := observability.NewCorrelationID()
	c := &Controller{
		rec:        opts.Recognizer,
		syn:        opts.Synthesizer,
		asker:      opts.Asker,
		speech:     opts.Speech,
		askTimeout: opts.AskTimeout,
		events:     make(chan any, eventQueueSize),
		done:       make(chan struct{}),
		state:      StateIdle,
		subs:       make(map[chan Snapshot]struct{}),
		sessionID:  sessionID,
		logger:     observability.WithComponent("voice").With().Str("session_id", sessionID).Logger(),
	}
	c.current = Snapshot{State: StateIdle, Transcript: []Turn{}}
	return c, nil
}

// SessionID identifies this conversation in logs.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// StartListening begins capturing a question. Ignored unless idle.
func (c *Controller) StartListening() { c.post(startListening{}) }

// StopListening abandons the current capture. Ignored unless listening.
func (c *Controller) StopListening() { c.post(stopListening{}) }

// StopSpeaking halts playback at once. Ignored unless speaking.
func (c *Controller) StopSpeaking() { c.post(stopSpeaking{}) }

// Reset cancels any activity and clears the conversation.
func (c *Controller) Reset() { c.post(reset{}) }

// Current returns the most recently published snapshot.
func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscribe returns a channel receiving one snapshot per accepted
// transition. A subscriber that falls more than subscriberQueueSize
// snapshots behind loses the excess. Call the returned func to unsubscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberQueueSize)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
		})
	}
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run processes events until ctx is cancelled, then halts any activity.
// It must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("voice: controller already running")
	}
	defer close(c.done)

	c.logger.Info().Msg("Voice session started")

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.logger.Info().Msg("Voice session ended")
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// sync blocks until every event posted before it has been handled.
func (c *Controller) sync() {
	done := make(chan struct{})
	c.post(barrier{done: done})
	select {
	case <-done:
	case <-c.done:
	}
}

func (c *Controller) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case startListening:
		c.onStartListening(ctx)
	case stopListening:
		c.onStopListening()
	case stopSpeaking:
		c.onStopSpeaking()
	case reset:
		c.onReset()
	case recognitionResult:
		if c.accept(e.op, StateListening) {
			c.onTranscriptReady(ctx, e.text)
		}
	case recognitionFailed:
		if c.accept(e.op, StateListening) {
			c.onRecognitionFailed(e.err)
		}
	case recognitionEnded:
		if c.accept(e.op, StateListening) {
			c.onRecognitionEnded()
		}
	case answerDone:
		if c.accept(e.op, StateProcessing) {
			c.onAnswer(ctx, e.text, e.err)
		}
	case speechStarted:
		if c.accept(e.op, StateSpeaking) {
			c.logger.Debug().Msg("Speech started")
		}
	case speechEnded:
		if c.accept(e.op, StateSpeaking) {
			c.onSpeechFinished(nil)
		}
	case speechFailed:
		if c.accept(e.op, StateSpeaking) {
			c.onSpeechFinished(e.err)
		}
	case barrier:
		close(e.done)
	default:
		c.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("Unknown event")
	}
}

// accept reports whether an adapter event belongs to the live operation.
func (c *Controller) accept(op uint64, want State) bool {
	if op != c.op || c.state != want {
		c.logger.Debug().
			Uint64("event_op", op).
			Uint64("current_op", c.op).
			Str("state", string(c.state)).
			Msg("Discarding stale event")
		return false
	}
	return true
}

func (c *Controller) onStartListening(ctx context.Context) {
	if c.state != StateIdle {
		return
	}

	from := c.state
	c.op++
	c.lastErr = ""
	c.state = StateListening

	if err := c.rec.Start(ctx, &recognitionSink{c: c, op: c.op}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to start recognition")
		observability.RecordError("recognition_start", "voice")
		c.op++
		c.state = StateIdle
		c.lastErr = recognitionMessage(err)
	}
	c.publish(from)
}

func (c *Controller) onStopListening() {
	if c.state != StateListening {
		return
	}

	from := c.state
	c.op++
	c.rec.Stop()
	c.state = StateIdle
	c.publish(from)
}

func (c *Controller) onTranscriptReady(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.onRecognitionFailed(NewRecognitionError(RecognitionNoSpeech, nil))
		return
	}

	from := c.state
	c.rec.Stop()
	c.transcript = append(c.transcript, Turn{Role: RoleUser, Text: text})
	c.state = StateProcessing
	c.op++

	var askCtx context.Context
	if c.askTimeout > 0 {
		askCtx, c.cancelAsk = context.WithTimeout(ctx, c.askTimeout)
	} else {
		askCtx, c.cancelAsk = context.WithCancel(ctx)
	}

	op := c.op
	go func() {
		answer, err := c.asker.Ask(askCtx, text)
		c.post(answerDone{op: op, text: answer, err: err})
	}()

	c.publish(from)
}

func (c *Controller) onRecognitionFailed(err *RecognitionError) {
	from := c.state
	c.op++
	c.rec.Stop()
	c.state = StateIdle
	c.lastErr = err.UserMessage()

	c.logger.Info().Str("kind", string(err.Kind)).Err(err.Err).Msg("Recognition failed")
	c.publish(from)
}

func (c *Controller) onRecognitionEnded() {
	from := c.state
	c.op++
	c.state = StateIdle
	c.publish(from)
}

func (c *Controller) onAnswer(ctx context.Context, text string, err error) {
	c.releaseAsk()
	from := c.state
	c.op++

	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to get answer")
		observability.RecordError("ask", "voice")
		c.state = StateIdle
		c.lastErr = userMessage(err, msgAnswerFailed)
		c.publish(from)
		return
	}

	c.transcript = append(c.transcript, Turn{Role: RoleBot, Text: text})
	c.state = StateSpeaking

	if err := c.syn.Speak(ctx, text, c.speech, &speechSink{c: c, op: c.op}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to start speech")
		observability.RecordError("speech_start", "voice")
		c.op++
		c.state = StateIdle
		c.lastErr = msgSpeechFailed
	}
	c.publish(from)
}

func (c *Controller) onSpeechFinished(err error) {
	from := c.state
	c.op++
	c.state = StateIdle
	if err != nil {
		c.logger.Warn().Err(err).Msg("Speech failed")
		c.lastErr = userMessage(err, msgSpeechFailed)
	}
	c.publish(from)
}

func (c *Controller) onStopSpeaking() {
	if c.state != StateSpeaking {
		return
	}

	from := c.state
	c.op++
	c.syn.Cancel()
	c.state = StateIdle
	c.publish(from)
}

func (c *Controller) onReset() {
	from := c.state
	c.op++
	c.halt()
	c.transcript = nil
	c.lastErr = ""
	c.state = StateIdle
	c.publish(from)
}

func (c *Controller) shutdown() {
	c.op++
	c.halt()
	c.state = StateIdle
}

// halt stops whatever activity is in flight.
func (c *Controller) halt() {
	switch c.state {
	case StateListening:
		c.rec.Stop()
	case StateProcessing:
		c.releaseAsk()
	case StateSpeaking:
		c.syn.Cancel()
	}
}

func (c *Controller) releaseAsk() {
	if c.cancelAsk != nil {
		c.cancelAsk()
		c.cancelAsk = nil
	}
}

// publish emits one snapshot for the transition that just happened.
func (c *Controller) publish(from State) {
	c.seq++
	turns := make([]Turn, len(c.transcript))
	copy(turns, c.transcript)
	snap := Snapshot{
		Seq:        c.seq,
		State:      c.state,
		Transcript: turns,
		LastError:  c.lastErr,
	}

	observability.RecordTransition(string(from), string(c.state))
	c.logger.Debug().
		Uint64("seq", snap.Seq).
		Str("from", string(from)).
		Str("to", string(snap.State)).
		Int("turns", len(turns)).
		Msg("State transition")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = snap
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
			c.logger.Warn().Uint64("seq", snap.Seq).Msg("Subscriber queue full, dropping snapshot")
		}
	}
}

func recognitionMessage(err error) string {
	var recErr *RecognitionError
	if errors.As(err, &recErr) {
		return recErr.UserMessage()
	}
	return NewRecognitionError(RecognitionOther, err).UserMessage()
}

type recognitionSink struct {
	c  *Controller
	op uint64
}

func (s *recognitionSink) Result(text string) {
	s.c.post(recognitionResult{op: s.op, text: text})
}

func (s *recognitionSink) Error(err *RecognitionError) {
	if err == nil {
		err = NewRecognitionError(RecognitionOther, nil)
	}
	s.c.post(recognitionFailed{op: s.op, err: err})
}

func (s *recognitionSink) End() {
	s.c.post(recognitionEnded{op: s.op})
}

type speechSink struct {
	c  *Controller
	op uint64
}

func (s *speechSink) Started() { s.c.post(speechStarted{op: s.op}) }

func (s *speechSink) Ended() { s.c.post(speechEnded{op: s.op}) }

func (s *speechSink) Error(err error) { s.c.post(speechFailed{op: s.op, err: err}) }
