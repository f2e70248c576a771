package camera

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

// Candidate is one image of an unlabelled pair.
type Candidate struct {
	Path   string
	Width  int
	Height int
}

// Name returns the lowercase base name used for filename hints.
func (c Candidate) Name() string {
	return strings.ToLower(filepath.Base(c.Path))
}

func (c Candidate) ratio() (float64, bool) {
	if c.Width <= 0 || c.Height <= 0 {
		return 0, false
	}
	return float64(c.Width) / float64(c.Height), true
}

// Pair is two images of one capture whose camera roles are unknown.
type Pair struct {
	First  Candidate
	Second Candidate
}

// Assignment is a resolved pair. It is never changed once returned.
type Assignment struct {
	Main   Candidate
	Selfie Candidate
}

// Choice names the candidate that is the selfie.
type Choice int

const (
	ChoiceFirst  Choice = 1
	ChoiceSecond Choice = 2
)

func (c Choice) String() string {
	switch c {
	case ChoiceFirst:
		return "first"
	case ChoiceSecond:
		return "second"
	}
	return fmt.Sprintf("Choice(%d)", int(c))
}

// Apply resolves the pair with c as the selfie.
func (p Pair) Apply(c Choice) Assignment {
	if c == ChoiceFirst {
		return Assignment{Main: p.Second, Selfie: p.First}
	}
	return Assignment{Main: p.First, Selfie: p.Second}
}

// Provenance says who made a decision.
type Provenance string

const (
	Automatic          Provenance = "automatic"
	Human              Provenance = "human"
	FallbackAfterAbort Provenance = "fallback-after-abort"
)

// Decision records how a pair was resolved.
type Decision struct {
	Provenance Provenance

	// Score is the heuristic confidence in [0, 1]; unused for Human
	Score float64

	// Reason names the heuristic rule that fired
	Reason string

	// Choice is the selfie chosen by the heuristic or the operator
	Choice Choice
}

func (d Decision) String() string {
	if d.Provenance == Human {
		return fmt.Sprintf("human(%s)", d.Choice)
	}
	return fmt.Sprintf("%s(%.2f, %s)", d.Provenance, d.Score, d.Reason)
}

// Labeled is the decision for captures whose export says which image is
// which, for a pair built as {First: front, Second: back}.
func Labeled() Decision {
	return Decision{Provenance: Automatic, Score: 1.0, Reason: "export-labels", Choice: ChoiceFirst}
}

// Heuristic reasons.
const (
	ReasonSecondary  = "filename-secondary"
	ReasonFrontBack  = "filename-front-back"
	ReasonDimensions = "aspect-ratio"
	ReasonOrdering   = "alphabetical"
)

// ratioGap is the aspect ratio difference above which dimensions decide.
const ratioGap = 0.2

// Guess resolves a pair from filename hints, then aspect ratios, then name
// order. Filename hints always win over dimensions.
func Guess(p Pair) (Assignment, Decision) {
	d := guess(p)
	return p.Apply(d.Choice), d
}

func guess(p Pair) Decision {
	n1, n2 := p.First.Name(), p.Second.Name()

	s1, s2 := strings.Contains(n1, "secondary"), strings.Contains(n2, "secondary")
	switch {
	case s1 && !s2:
		return Decision{Provenance: Automatic, Score: 1.0, Reason: ReasonSecondary, Choice: ChoiceFirst}
	case s2 && !s1:
		return Decision{Provenance: Automatic, Score: 1.0, Reason: ReasonSecondary, Choice: ChoiceSecond}
	}

	switch {
	case strings.Contains(n1, "front") && strings.Contains(n2, "back"):
		return Decision{Provenance: Automatic, Score: 0.95, Reason: ReasonFrontBack, Choice: ChoiceFirst}
	case strings.Contains(n1, "back") && strings.Contains(n2, "front"):
		return Decision{Provenance: Automatic, Score: 0.95, Reason: ReasonFrontBack, Choice: ChoiceSecond}
	}

	r1, ok1 := p.First.ratio()
	r2, ok2 := p.Second.ratio()
	if ok1 && ok2 {
		if diff := math.Abs(r1 - r2); diff > ratioGap {
			score := 0.6 + math.Min(diff, 0.3)
			// the more square image is the selfie
			if math.Abs(r1-1) < math.Abs(r2-1) {
				return Decision{Provenance: Automatic, Score: score, Reason: ReasonDimensions, Choice: ChoiceFirst}
			}
			return Decision{Provenance: Automatic, Score: score, Reason: ReasonDimensions, Choice: ChoiceSecond}
		}
	}

	// alphabetically first is the main view
	if n1 < n2 {
		return Decision{Provenance: Automatic, Score: 0.5, Reason: ReasonOrdering, Choice: ChoiceSecond}
	}
	return Decision{Provenance: Automatic, Score: 0.5, Reason: ReasonOrdering, Choice: ChoiceFirst}
}

// Measure fills in missing candidate dimensions from the image headers.
// Unreadable images keep zero dimensions and drop out of the ratio rule.
func Measure(c Candidate) Candidate {
	if c.Width > 0 && c.Height > 0 {
		return c
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return c
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return c
	}
	c.Width, c.Height = cfg.Width, cfg.Height
	return c
}
