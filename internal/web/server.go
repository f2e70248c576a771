package web

import (
	"context"
	"embed"
	stderrors "errors"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/camera"
	"github.com/hpungsan/bereel/internal/errors"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Picker delivers camera prompts to a browser page. It implements
// camera.Chooser and holds at most one pending pair.
type Picker struct {
	renderer *Renderer
	hub      *hub
	logger   *zap.Logger

	mu      sync.Mutex
	pending *pending
}

type pending struct {
	token    string
	prompt   camera.Prompt
	question string
	answer   chan answer
}

type answer struct {
	choice camera.Choice
	err    error
}

// NewPicker creates a picker and starts its event hub. Call Close when done.
func NewPicker(version string, logger *zap.Logger) *Picker {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(err)
	}

	p := &Picker{
		renderer: NewRenderer(templateSub, version, logger),
		hub:      newHub(logger),
		logger:   logger,
	}
	go p.hub.run()
	return p
}

// Close disconnects every page.
func (p *Picker) Close() {
	p.hub.stop()
}

// Choose implements camera.Chooser: it publishes the prompt and
// blocks until the page answers or ctx ends.
func (p *Picker) Choose(ctx context.Context, prompt camera.Prompt) (camera.Choice, error) {
	pend := &pending{
		token:    uuid.NewString(),
		prompt:   prompt,
		question: camera.PromptMarkdown(prompt),
		answer:   make(chan answer, 1),
	}

	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return 0, errors.NewConflict("another pair is already awaiting a choice")
	}
	p.pending = pend
	p.mu.Unlock()

	p.hub.publish(Event{Type: EventPending, Token: pend.token})
	defer func() {
		p.mu.Lock()
		if p.pending == pend {
			p.pending = nil
		}
		p.mu.Unlock()
		p.hub.publish(Event{Type: EventIdle})
	}()

	select {
	case <-ctx.Done():
		return 0, errors.NewInteractiveAbort(ctx.Err().Error())
	case a := <-pend.answer:
		return a.choice, a.err
	}
}

// deliver hands a to the pair named by token and retires it, so exactly
// one answer is accepted per pair.
func (p *Picker) deliver(token string, a answer) (*pending, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pend := p.pending
	if pend == nil || pend.token != token {
		return nil, errors.NewConflict("this pair was already answered")
	}
	pend.answer <- a
	p.pending = nil
	return pend, nil
}

// current returns the pending pair, or nil.
func (p *Picker) current() *pending {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Handler returns the picker's routes wrapped with security headers.
func (p *Picker) Handler() http.Handler {
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/", p.HandlePage)
	r.Get("/pending", p.HandlePending)
	r.Get("/images/{token}/{n}", p.HandleImage)
	r.Post("/choose/{token}", p.HandleChoose)
	r.Get("/ws", p.hub.serveWS)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return r
}

// NewServer creates the HTTP server for the picker.
func NewServer(p *Picker, addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self'; connect-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves srv until ctx ends, then shuts it down gracefully.
// ready, if set, receives the URL once the listener is bound.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger, ready func(url string)) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errors.NewFatal("cannot start web picker", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	url := "http://" + ln.Addr().String()
	logger.Info("web picker running", zap.String("url", url))
	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, "[::]") || strings.HasPrefix(srv.Addr, ":") {
		logger.Warn("web picker is binding to all interfaces and may be accessible from the network")
	}
	if ready != nil {
		ready(url)
	}

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Debug("shutting down web picker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
