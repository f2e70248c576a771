package pipeline

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Progress reports finished items. Implementations are safe for
// concurrent use.
type Progress interface {
	Add(n int)
	Finish()
}

// NewProgress returns a progress bar on w, or a no-op when w is nil.
func NewProgress(total int, w io.Writer) Progress {
	if w == nil {
		return noProgress{}
	}
	return &barProgress{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("exporting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)}
}

type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Add(n int) { _ = p.bar.Add(n) }
func (p *barProgress) Finish()   { _ = p.bar.Finish() }

type noProgress struct{}

func (noProgress) Add(int) {}
func (noProgress) Finish() {}
