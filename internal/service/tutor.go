package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrEmptyPrompt is returned for a blank prompt.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Reply is a tutor answer and what producing it cost.
type Reply struct {
	Text string  `json:"text"`
	Cost float64 `json:"cost"`
}

// Tutor answers a learner's prompt. Implementations call an LLM provider;
// the returned Cost is fed to the rate limiter's cost ledger.
type Tutor interface {
	Respond(ctx context.Context, userID, prompt string) (Reply, error)
}

// EchoTutor is the development tutor: it echoes the prompt at a fixed cost.
type EchoTutor struct {
	// CostPerCall is charged on every reply.
	CostPerCall float64
	// Prefix is prepended to the echoed prompt.
	Prefix string
}

// Respond echoes prompt.
func (t EchoTutor) Respond(ctx context.Context, userID, prompt string) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Reply{}, ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > 4000 {
		return Reply{}, fmt.Errorf("prompt exceeds 4000 characters")
	}
	return Reply{Text: t.Prefix + prompt, Cost: t.CostPerCall}, nil
}
