package camera

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hpungsan/bereel/internal/errors"
)

// Prompt is one pair awaiting a human choice.
type Prompt struct {
	ConversationID string
	MessageID      string
	Pair           Pair

	// Suggested is what the heuristic would pick
	Suggested Decision

	// Index and Total drive the "pair i of n" line; Total may be zero
	Index int
	Total int
}

// Chooser obtains a human choice for one prompt. Returning an
// INTERACTIVE_ABORT error (or any error) means no choice was made.
type Chooser interface {
	Choose(ctx context.Context, p Prompt) (Choice, error)
}

// Arbiter resolves unlabelled pairs, asking a Chooser when one is set.
// At most one prompt is outstanding at any time.
type Arbiter struct {
	chooser Chooser
	slot    *semaphore.Weighted
	logger  *zap.Logger

	total atomic.Int64
	asked atomic.Int64
}

// NewArbiter creates an arbiter. A nil chooser makes every decision automatic.
func NewArbiter(chooser Chooser, logger *zap.Logger) *Arbiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbiter{
		chooser: chooser,
		slot:    semaphore.NewWeighted(1),
		logger:  logger,
	}
}

// Interactive reports whether decisions go to a human.
func (a *Arbiter) Interactive() bool {
	return a != nil && a.chooser != nil
}

// SetTotal sets the number of pairs expected to be prompted.
func (a *Arbiter) SetTotal(n int) {
	a.total.Store(int64(n))
}

// Decide resolves p. With a chooser it blocks until the single prompt slot is
// free and the human answers; an abort falls back to the heuristic.
func (a *Arbiter) Decide(ctx context.Context, conversationID, messageID string, p Pair) (Assignment, Decision) {
	p.First, p.Second = Measure(p.First), Measure(p.Second)
	auto, guessed := Guess(p)
	if !a.Interactive() {
		return auto, guessed
	}

	if err := a.slot.Acquire(ctx, 1); err != nil {
		return a.fallback(auto, guessed, conversationID, messageID, errors.NewInteractiveAbort(err.Error()))
	}
	defer a.slot.Release(1)

	prompt := Prompt{
		ConversationID: conversationID,
		MessageID:      messageID,
		Pair:           p,
		Suggested:      guessed,
		Index:          int(a.asked.Add(1)),
		Total:          int(a.total.Load()),
	}

	choice, err := a.chooser.Choose(ctx, prompt)
	if err == nil && choice != ChoiceFirst && choice != ChoiceSecond {
		err = errors.NewInteractiveAbort(fmt.Sprintf("invalid choice %d", int(choice)))
	}
	if err != nil {
		return a.fallback(auto, guessed, conversationID, messageID, err)
	}

	d := Decision{Provenance: Human, Score: 1.0, Reason: "operator", Choice: choice}
	a.logger.Debug("pair resolved by operator",
		zap.String("conversation", conversationID),
		zap.String("message", messageID),
		zap.Stringer("choice", choice))
	return p.Apply(choice), d
}

func (a *Arbiter) fallback(auto Assignment, guessed Decision, conversationID, messageID string, err error) (Assignment, Decision) {
	d := guessed
	d.Provenance = FallbackAfterAbort
	a.logger.Warn("interactive choice aborted, using heuristic",
		zap.String("conversation", conversationID),
		zap.String("message", messageID),
		zap.String("decision", d.String()),
		zap.Error(err))
	return auto, d
}

// PromptMarkdown renders the question shown by every chooser.
func PromptMarkdown(p Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Conversation `%s`, message `%s`\n\n", p.ConversationID, p.MessageID)
	if p.Total > 0 {
		fmt.Fprintf(&b, "Interactive pair %d of %d\n\n", p.Index, p.Total)
	}
	b.WriteString("Which image is the **selfie view** (front camera)?\n\n")
	b.WriteString("| # | File | Size | Ratio |\n|---|---|---|---|\n")
	for i, c := range []Candidate{p.Pair.First, p.Pair.Second} {
		size, ratio := "?", "?"
		if r, ok := c.ratio(); ok {
			size = fmt.Sprintf("%dx%d", c.Width, c.Height)
			ratio = fmt.Sprintf("%.2f", r)
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", i+1, filepath.Base(c.Path), size, ratio)
	}
	fmt.Fprintf(&b, "\nSuggested: image %d (%s, score %.2f)\n", int(p.Suggested.Choice), p.Suggested.Reason, p.Suggested.Score)
	return b.String()
}
