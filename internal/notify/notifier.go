// ABOUTME: Matrix notifier: formats and sends portal alerts to a room.
// ABOUTME: Sends are queued and best-effort; failures are logged and dropped.

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/consoledeck/internal/session"
)

const (
	// sendTimeout bounds one homeserver request.
	sendTimeout = 10 * time.Second
	// queueSize bounds pending alerts; overflow is dropped, not blocked on.
	queueSize = 32
)

// Notifier sends portal alerts to a Matrix room.
type Notifier struct {
	client *mautrix.Client
	room   id.RoomID
	queue  chan string
	done   chan struct{}
	logger *slog.Logger
}

// New creates a notifier from its config and starts the send loop.
func New(cfg *Config) (*Notifier, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	n := &Notifier{
		client: client,
		room:   id.RoomID(cfg.Matrix.Room),
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "notify"),
	}
	go n.run()
	return n, nil
}

// ConsoleFailing reports a console stuck in repeated load failures.
// Safe to call from the session registry's alert hook: it never blocks.
func (n *Notifier) ConsoleFailing(console string, failures int, last *session.SessionError) {
	msg := fmt.Sprintf("⚠️ console %q has failed to load %d times in a row", console, failures)
	if last != nil {
		msg += fmt.Sprintf(" (%s: %s)", last.Kind, last.Message)
	}
	n.enqueue(msg)
}

// AuthTimeout reports an SSO round-trip that never completed.
func (n *Notifier) AuthTimeout(message string) {
	n.enqueue("🔒 SSO completion failed: " + message)
}

// Close stops the send loop. Queued alerts are dropped.
func (n *Notifier) Close() {
	close(n.done)
}

func (n *Notifier) enqueue(msg string) {
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn("alert queue full, dropping notification", "message", msg)
	}
}

// run drains the queue, sending one message at a time.
func (n *Notifier) run() {
	for {
		select {
		case <-n.done:
			return
		case msg := <-n.queue:
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			_, err := n.client.SendText(ctx, n.room, msg)
			cancel()
			if err != nil {
				n.logger.Warn("failed to send matrix notification", "error", err)
			}
		}
	}
}
