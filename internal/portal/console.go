// ABOUTME: Console pages and the frame event API.
// ABOUTME: Translates browser load/error/retry reports into controller operations.

package portal

import (
	"encoding/json"
	"net/http"

	"github.com/2389/consoledeck/internal/session"
)

// frameEvent is one report from the frame shell.
type frameEvent struct {
	// Event is "loaded", "error", or "retry".
	Event string `json:"event"`
	// Kind, Message, Details describe an "error" event.
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// handleConsolePage renders one console's frame page. Mounting the view
// restarts its session: the controller returns to a fresh LOADING state.
func (p *Portal) handleConsolePage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctrl, ok := p.registry.Get(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	// View reactivation: fresh lifecycle, then the frame mount begins a load.
	ctrl.Reset()
	ctrl.SetLoading()

	sess := sessionFromContext(r)
	p.dedupe.Forget(eventKey(name, "loaded", sess.ID))
	p.dedupe.Forget(eventKey(name, "error", sess.ID))
	p.dedupe.Forget(eventKey(name, "retry", sess.ID))

	r, csrfToken := p.ensureCSRFToken(w, r)
	p.renderConsolePage(w, ctrl.Snapshot(), csrfToken)
}

// handleConsoleList returns snapshots of every console.
func (p *Portal) handleConsoleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.registry.List())
}

// handleConsoleState returns one console's snapshot.
func (p *Portal) handleConsoleState(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := p.registry.Get(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// handleConsoleEvent applies one frame shell report to the console's
// controller. Duplicate reports within the dedupe window are dropped so a
// double-fired browser signal (or a double-clicked retry) lands once.
func (p *Portal) handleConsoleEvent(w http.ResponseWriter, r *http.Request) {
	if !p.validateCSRF(r) {
		http.Error(w, "invalid csrf token", http.StatusForbidden)
		return
	}

	name := r.PathValue("name")
	ctrl, ok := p.registry.Get(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var ev frameEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	sess := sessionFromContext(r)
	switch ev.Event {
	case "loaded":
		if p.dedupe.Seen(eventKey(name, "loaded", sess.ID)) {
			break
		}
		ctrl.SetLoaded()

	case "error":
		if p.dedupe.Seen(eventKey(name, "error", sess.ID)) {
			break
		}
		// A fresh failure starts a new retry window: the user's next
		// retry is a genuine new attempt, not a duplicate of the last.
		p.dedupe.Forget(eventKey(name, "retry", sess.ID))
		msg := ev.Message
		if msg == "" {
			msg = "console failed to load"
		}
		ctrl.SetError(session.ErrorKind(ev.Kind), msg, ev.Details)

	case "retry":
		if p.dedupe.Seen(eventKey(name, "retry", sess.ID)) {
			break
		}
		// A retry is a new attempt: earlier load/error reports no longer
		// shadow the ones the re-mount will produce.
		p.dedupe.Forget(eventKey(name, "loaded", sess.ID))
		p.dedupe.Forget(eventKey(name, "error", sess.ID))
		ctrl.IncrementRetryCount()
		ctrl.SetLoading()

	default:
		http.Error(w, "unknown event", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// eventKey builds the dedupe key for one event from one browser session.
func eventKey(console, event, sessionID string) string {
	return console + "|" + event + "|" + sessionID
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
