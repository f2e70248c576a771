package camera

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/errors"
)

func cand(name string, w, h int) Candidate {
	return Candidate{Path: "/conv/" + name, Width: w, Height: h}
}

func TestGuess(t *testing.T) {
	tests := []struct {
		name       string
		pair       Pair
		wantSelfie string
		reason     string
	}{
		{
			name:       "secondary keyword",
			pair:       Pair{cand("7-primary.webp", 1500, 2000), cand("7-secondary.webp", 1500, 2000)},
			wantSelfie: "7-secondary.webp",
			reason:     ReasonSecondary,
		},
		{
			name:       "front back keywords",
			pair:       Pair{cand("7-back.webp", 1500, 2000), cand("7-front.webp", 1500, 2000)},
			wantSelfie: "7-front.webp",
			reason:     ReasonFrontBack,
		},
		{
			name:       "filename beats dimensions",
			pair:       Pair{cand("front.webp", 1500, 2000), cand("back.webp", 1000, 1000)},
			wantSelfie: "front.webp",
			reason:     ReasonFrontBack,
		},
		{
			name:       "more square is selfie",
			pair:       Pair{cand("7-a.webp", 1000, 2000), cand("7-b.webp", 1000, 1000)},
			wantSelfie: "7-b.webp",
			reason:     ReasonDimensions,
		},
		{
			name:       "ratios too close",
			pair:       Pair{cand("7-b.webp", 1500, 2000), cand("7-a.webp", 1400, 2000)},
			wantSelfie: "7-b.webp",
			reason:     ReasonOrdering,
		},
		{
			name:       "unknown dimensions use ordering",
			pair:       Pair{cand("7-a.webp", 0, 0), cand("7-b.webp", 1000, 1000)},
			wantSelfie: "7-b.webp",
			reason:     ReasonOrdering,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, d := Guess(tt.pair)
			assert.Equal(t, tt.wantSelfie, filepath.Base(got.Selfie.Path))
			assert.NotEqual(t, got.Main.Path, got.Selfie.Path)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, Automatic, d.Provenance)
			assert.True(t, d.Score > 0 && d.Score <= 1)
		})
	}
}

func TestGuess_FilenameHintIgnoresDimensions(t *testing.T) {
	for _, dims := range [][4]int{{1, 1, 1, 1}, {1000, 1000, 1000, 3000}, {3000, 1000, 1000, 1000}, {0, 0, 0, 0}} {
		p := Pair{cand("x-front.webp", dims[0], dims[1]), cand("x-back.webp", dims[2], dims[3])}
		got, _ := Guess(p)
		require.Equal(t, "x-front.webp", filepath.Base(got.Selfie.Path), "dims %v", dims)
	}
}

func TestMeasure(t *testing.T) {
	p := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 30, 20))))
	require.NoError(t, f.Close())

	c := Measure(Candidate{Path: p})
	assert.Equal(t, 30, c.Width)
	assert.Equal(t, 20, c.Height)

	missing := Measure(Candidate{Path: filepath.Join(t.TempDir(), "nope.png")})
	assert.Zero(t, missing.Width)
}

// scriptedChooser answers prompts from a function and records concurrency.
type scriptedChooser struct {
	answer   func(p Prompt) (Choice, error)
	active   atomic.Int32
	maxSeen  atomic.Int32
	prompted atomic.Int32
}

func (s *scriptedChooser) Choose(ctx context.Context, p Prompt) (Choice, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		old := s.maxSeen.Load()
		if n <= old || s.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	s.prompted.Add(1)
	time.Sleep(2 * time.Millisecond)
	return s.answer(p)
}

func TestArbiter_NoChooserIsAutomatic(t *testing.T) {
	a := NewArbiter(nil, zap.NewNop())
	p := Pair{cand("7-a.webp", 1000, 2000), cand("7-b.webp", 1000, 1000)}

	got, d := a.Decide(context.Background(), "c", "7", p)
	want, wantD := Guess(p)
	assert.Equal(t, want, got)
	assert.Equal(t, wantD, d)
	assert.False(t, a.Interactive())
}

func TestArbiter_HumanChoice(t *testing.T) {
	ch := &scriptedChooser{answer: func(Prompt) (Choice, error) { return ChoiceFirst, nil }}
	a := NewArbiter(ch, nil)
	p := Pair{cand("7-a.webp", 1000, 2000), cand("7-b.webp", 1000, 1000)}

	got, d := a.Decide(context.Background(), "c", "7", p)
	assert.Equal(t, Human, d.Provenance)
	assert.Equal(t, "7-a.webp", filepath.Base(got.Selfie.Path))
	assert.Equal(t, "human(first)", d.String())
}

func TestArbiter_AbortFallsBackToHeuristic(t *testing.T) {
	pairs := []Pair{
		{cand("7-a.webp", 1000, 2000), cand("7-b.webp", 1000, 1000)},
		{cand("8-front.webp", 1, 1), cand("8-back.webp", 1, 1)},
		{cand("9-z.webp", 0, 0), cand("9-y.webp", 0, 0)},
	}
	aborts := []error{
		errors.NewInteractiveAbort("skipped by operator"),
		context.Canceled,
		nil, // invalid choice
	}

	for i, p := range pairs {
		ch := &scriptedChooser{answer: func(Prompt) (Choice, error) { return Choice(0), aborts[i] }}
		a := NewArbiter(ch, nil)

		got, d := a.Decide(context.Background(), "c", "m", p)
		want, wantD := Guess(p)
		assert.Equal(t, want, got)
		assert.Equal(t, FallbackAfterAbort, d.Provenance)
		assert.Equal(t, wantD.Score, d.Score)
		assert.Equal(t, wantD.Reason, d.Reason)
	}
}

func TestArbiter_CancelledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	ch := &scriptedChooser{answer: func(Prompt) (Choice, error) {
		<-release
		return ChoiceSecond, nil
	}}
	a := NewArbiter(ch, nil)
	p := Pair{cand("7-a.webp", 1000, 2000), cand("7-b.webp", 1000, 1000)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Decide(context.Background(), "c", "1", p)
	}()
	require.Eventually(t, func() bool { return ch.prompted.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, d := a.Decide(ctx, "c", "2", p)
	assert.Equal(t, FallbackAfterAbort, d.Provenance)

	close(release)
	<-done
}

func TestArbiter_OnePromptAtATime(t *testing.T) {
	ch := &scriptedChooser{answer: func(p Prompt) (Choice, error) { return ChoiceSecond, nil }}
	a := NewArbiter(ch, nil)
	a.SetTotal(20)

	var wg sync.WaitGroup
	indexes := make(chan int, 20)
	wrapped := &scriptedChooser{answer: func(p Prompt) (Choice, error) {
		indexes <- p.Index
		assert.Equal(t, 20, p.Total)
		return ch.answer(p)
	}}
	a.chooser = wrapped

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, d := a.Decide(context.Background(), "c", "m", Pair{cand("a.webp", 1, 1), cand("b.webp", 1, 1)})
			assert.Equal(t, Human, d.Provenance)
		}()
	}
	wg.Wait()
	close(indexes)

	assert.Equal(t, int32(1), wrapped.maxSeen.Load())
	seen := map[int]bool{}
	for i := range indexes {
		seen[i] = true
	}
	assert.Len(t, seen, 20)
}

func TestPromptMarkdown(t *testing.T) {
	p := Prompt{
		ConversationID: "conv-1",
		MessageID:      "7",
		Pair:           Pair{cand("7-a.webp", 1500, 2000), cand("7-b.webp", 0, 0)},
		Suggested:      Decision{Provenance: Automatic, Score: 0.5, Reason: ReasonOrdering, Choice: ChoiceSecond},
		Index:          3,
		Total:          12,
	}
	md := PromptMarkdown(p)
	assert.Contains(t, md, "Conversation `conv-1`, message `7`")
	assert.Contains(t, md, "Interactive pair 3 of 12")
	assert.Contains(t, md, "| 1 | 7-a.webp | 1500x2000 | 0.75 |")
	assert.Contains(t, md, "| 2 | 7-b.webp | ? | ? |")
	assert.Contains(t, md, "Suggested: image 2 (alphabetical, score 0.50)")

	p.Total = 0
	assert.False(t, strings.Contains(PromptMarkdown(p), "Interactive pair"))
}

func TestTerminalChooser(t *testing.T) {
	p := Prompt{ConversationID: "c", MessageID: "7", Pair: Pair{cand("a.webp", 1, 1), cand("b.webp", 1, 1)}}
	var opened []string
	open := func(path string) error { opened = append(opened, path); return nil }

	t.Run("retries until valid", func(t *testing.T) {
		opened = nil
		var out strings.Builder
		tc := NewTerminalChooser(strings.NewReader("x\n2\n"), &out, open)
		choice, err := tc.Choose(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, ChoiceSecond, choice)
		assert.Contains(t, out.String(), "Please enter 1, 2, or s")
		assert.Equal(t, []string{"/conv/a.webp", "/conv/b.webp"}, opened)
	})

	t.Run("skip aborts", func(t *testing.T) {
		tc := NewTerminalChooser(strings.NewReader("s\n"), &strings.Builder{}, open)
		_, err := tc.Choose(context.Background(), p)
		require.True(t, errors.Is(err, errors.ErrInteractiveAbort))
	})

	t.Run("eof aborts", func(t *testing.T) {
		tc := NewTerminalChooser(strings.NewReader(""), &strings.Builder{}, open)
		_, err := tc.Choose(context.Background(), p)
		require.True(t, errors.Is(err, errors.ErrInteractiveAbort))
	})

	t.Run("every prompt after eof falls back", func(t *testing.T) {
		a := NewArbiter(NewTerminalChooser(strings.NewReader(""), &strings.Builder{}, open), zap.NewNop())
		pair := Pair{cand("7-a.webp", 1000, 2000), cand("7-b.webp", 1000, 1000)}

		for i := 0; i < 3; i++ {
			decided := make(chan Decision, 1)
			go func() {
				_, d := a.Decide(context.Background(), "c", "m", pair)
				decided <- d
			}()
			select {
			case d := <-decided:
				assert.Equal(t, FallbackAfterAbort, d.Provenance, "prompt %d", i+1)
			case <-time.After(2 * time.Second):
				t.Fatalf("prompt %d still waiting after stdin closed", i+1)
			}
		}
	})

	t.Run("last line without newline", func(t *testing.T) {
		tc := NewTerminalChooser(strings.NewReader("1"), &strings.Builder{}, open)
		choice, err := tc.Choose(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, ChoiceFirst, choice)
	})
}
