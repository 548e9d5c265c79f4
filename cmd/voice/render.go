package main

import (
	"context"
	"fmt"
	"io"

	"github.com/lexiqai/voice-assistant/internal/voice"
)

// renderer prints the conversation as snapshots arrive.
type renderer struct {
	out io.Writer
	// echoBot prints bot turns; off when the synthesizer already writes them.
	echoBot bool

	printed   int
	state     voice.State
	lastError string
}

func newRenderer(out io.Writer, echoBot bool) *renderer {
	return &renderer{out: out, echoBot: echoBot, state: voice.StateIdle}
}

func (r *renderer) run(ctx context.Context, snapshots <-chan voice.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			r.render(snap)
		}
	}
}

func (r *renderer) render(snap voice.Snapshot) {
	if len(snap.Transcript) < r.printed {
		fmt.Fprintln(r.out, "-- conversation cleared --")
		r.printed = 0
	}

	for _, turn := range snap.Transcript[r.printed:] {
		switch turn.Role {
		case voice.RoleUser:
			fmt.Fprintf(r.out, "You: %s\n", turn.Text)
		case voice.RoleBot:
			if r.echoBot {
				fmt.Fprintf(r.out, "Assistant: %s\n", turn.Text)
			}
		}
	}
	r.printed = len(snap.Transcript)

	if snap.LastError != "" && (snap.LastError != r.lastError || snap.State != r.state) {
		fmt.Fprintf(r.out, "! %s\n", snap.LastError)
	}
	r.lastError = snap.LastError

	if snap.State != r.state {
		switch snap.State {
		case voice.StateListening:
			fmt.Fprintln(r.out, "Listening...")
		case voice.StateProcessing:
			fmt.Fprintln(r.out, "Thinking...")
		}
		r.state = snap.State
	}
}
