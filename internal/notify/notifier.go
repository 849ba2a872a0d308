// Package notify forwards player notifications to the external
// notification/chat service. Delivery is fire-and-forget.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

const (
	TypeMatched            = "matched"
	TypeGameOver           = "game_over"
	TypeRatingChanged      = "rating_changed"
	TypeGameTerminated     = "game_terminated"
	TypeGameReported       = "game_reported"
	TypeTournamentPaired   = "tournament_paired"
	TypeTournamentPlayoff  = "tournament_playoff"
	TypeTournamentComplete = "tournament_completed"
	TypeTournamentCancel   = "tournament_cancelled"
)

type Event struct {
	Type        string    `json:"type"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier never blocks the caller on delivery.
type Notifier interface {
	Notify(ev Event)
}

type Nop struct{}

func (Nop) Notify(Event) {}

// HTTPNotifier posts each event on its own goroutine.
type HTTPNotifier struct {
	client  *Client
	path    string
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewHTTPNotifier(client *Client) *HTTPNotifier {
	return &HTTPNotifier{client: client, path: "/v1/notifications", timeout: 10 * time.Second}
}

// New returns a Nop notifier when baseURL is empty.
func New(baseURL string, opts ...ClientOption) Notifier {
	if strings.TrimSpace(baseURL) == "" {
		return Nop{}
	}
	return NewHTTPNotifier(NewClient(baseURL, opts...))
}

func (n *HTTPNotifier) Notify(ev Event) {
	if strings.TrimSpace(ev.RecipientID) == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.client.PostJSON(ctx, n.path, ev); err != nil {
			obslog.L().Warn("notify_failed",
				zap.String("type", ev.Type),
				zap.String("recipient_id", ev.RecipientID),
				zap.Error(err),
			)
			return
		}
		obslog.L().Debug("notify_sent", zap.String("type", ev.Type), zap.String("recipient_id", ev.RecipientID))
	}()
}

// Wait blocks until in-flight deliveries finish (shutdown and tests).
func (n *HTTPNotifier) Wait() { n.wg.Wait() }
