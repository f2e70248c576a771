package web

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/camera"
	"github.com/hpungsan/bereel/internal/errors"
)

// view converts the pending pair for templates and JSON.
func (p *pending) view() *PendingView {
	first, second := p.prompt.Pair.First, p.prompt.Pair.Second
	return &PendingView{
		Token:    p.token,
		Question: renderMarkdown(p.question),
		Images:   [2]string{"/images/" + p.token + "/1", "/images/" + p.token + "/2"},
		Names:    [2]string{filepath.Base(first.Path), filepath.Base(second.Path)},
		Index:    p.prompt.Index,
		Total:    p.prompt.Total,
	}
}

// HandlePage handles GET /: the picker page.
func (p *Picker) HandlePage(w http.ResponseWriter, r *http.Request) {
	data := PickerPageData{
		PageData: PageData{
			Title:   "Pick the selfie",
			Version: p.renderer.version,
		},
	}
	if pend := p.current(); pend != nil {
		data.Pending = pend.view()
	}
	w.Header().Set("Cache-Control", "no-store")
	p.renderer.renderPage(w, http.StatusOK, "picker", data)
}

// HandlePending handles GET /pending: the pending pair as JSON.
func (p *Picker) HandlePending(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	pend := p.current()
	if pend == nil {
		renderJSON(w, http.StatusOK, map[string]any{"pending": false})
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"pending": true, "pair": pend.view()})
}

// HandleImage handles GET /images/{token}/{n}: one image of the pending pair.
func (p *Picker) HandleImage(w http.ResponseWriter, r *http.Request) {
	pend, err := p.lookup(chi.URLParam(r, "token"))
	if err != nil {
		p.renderer.renderError(w, r, err)
		return
	}

	var path string
	switch chi.URLParam(r, "n") {
	case "1":
		path = pend.prompt.Pair.First.Path
	case "2":
		path = pend.prompt.Pair.Second.Path
	default:
		p.renderer.renderError(w, r, errors.NewNotFound(r.URL.Path))
		return
	}

	if mt, err := mimetype.DetectFile(path); err == nil {
		w.Header().Set("Content-Type", mt.String())
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}

// HandleChoose handles POST /choose/{token}: selfie=1|2|skip.
func (p *Picker) HandleChoose(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := p.lookup(token); err != nil {
		p.renderer.renderError(w, r, err)
		return
	}

	var a answer
	switch v := r.FormValue("selfie"); v {
	case "skip":
		a.err = errors.NewInteractiveAbort("skipped in web picker")
	default:
		n, convErr := strconv.Atoi(v)
		if convErr != nil || (n != int(camera.ChoiceFirst) && n != int(camera.ChoiceSecond)) {
			p.renderer.renderError(w, r, errors.NewInvalidRequest("selfie must be 1, 2, or skip"))
			return
		}
		a.choice = camera.Choice(n)
	}

	pend, err := p.deliver(token, a)
	if err != nil {
		p.renderer.renderError(w, r, err)
		return
	}

	p.logger.Debug("web picker answered",
		zap.String("conversation", pend.prompt.ConversationID),
		zap.String("message", pend.prompt.MessageID),
		zap.Int("choice", int(a.choice)))

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// lookup returns the pending pair if token names it.
func (p *Picker) lookup(token string) (*pending, error) {
	pend := p.current()
	if pend == nil {
		return nil, errors.NewNotFound("pending pair")
	}
	if pend.token != token {
		return nil, errors.NewConflict("pair is no longer pending")
	}
	return pend, nil
}
