package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/hpungsan/bereel/internal/errors"
)

// TerminalChooser opens both images in the system viewer and reads the
// answer from a line-oriented reader (normally stdin).
type TerminalChooser struct {
	out  io.Writer
	open func(path string) error

	startOnce sync.Once
	in        *bufio.Reader
	lines     chan string

	// done is closed after readErr is set
	done    chan struct{}
	readErr error
}

// NewTerminalChooser creates a chooser reading from in and writing to out.
// open shows an image to the operator; nil uses OpenInViewer.
func NewTerminalChooser(in io.Reader, out io.Writer, open func(string) error) *TerminalChooser {
	if open == nil {
		open = OpenInViewer
	}
	return &TerminalChooser{
		out:   out,
		open:  open,
		in:    bufio.NewReader(in),
		lines: make(chan string),
		done:  make(chan struct{}),
	}
}

// Choose implements Chooser. "1" or "2" picks the selfie; "s", "3", EOF or a
// cancelled context aborts. Once the reader is exhausted every later call
// aborts immediately.
func (t *TerminalChooser) Choose(ctx context.Context, p Prompt) (Choice, error) {
	t.startOnce.Do(func() { go t.readLines() })
	select {
	case <-t.done:
		return 0, errors.NewInteractiveAbort(t.readErr.Error())
	default:
	}

	fmt.Fprintf(t.out, "\n%s\n", PromptMarkdown(p))
	for i, c := range []Candidate{p.Pair.First, p.Pair.Second} {
		if err := t.open(c.Path); err != nil {
			fmt.Fprintf(t.out, "Could not open image %d (%v); open %s manually.\n", i+1, err, c.Path)
		}
	}

	for {
		fmt.Fprint(t.out, "Enter choice (1, 2, or s to skip): ")
		select {
		case <-ctx.Done():
			return 0, errors.NewInteractiveAbort(ctx.Err().Error())
		case <-t.done:
			return 0, errors.NewInteractiveAbort(t.readErr.Error())
		case line := <-t.lines:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "1":
				return ChoiceFirst, nil
			case "2":
				return ChoiceSecond, nil
			case "s", "3", "skip":
				return 0, errors.NewInteractiveAbort("skipped by operator")
			}
			fmt.Fprintln(t.out, "Please enter 1, 2, or s")
		}
	}
}

// readLines feeds lines to Choose until the first read error, then closes done.
func (t *TerminalChooser) readLines() {
	defer close(t.done)
	for {
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			t.readErr = err
			return
		}
		t.lines <- line
	}
}

// OpenInViewer opens path with the platform's default image viewer.
func OpenInViewer(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
