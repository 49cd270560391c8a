// Package leaderboard projects the point ledger onto a single Discord
// message that is edited in place as balances change.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"solarbot/internal/store"
)

const header = "🏆 **FAMILY POINTS LEADERBOARD**"

// editTimeout bounds one reconcile attempt against the Discord API.
const editTimeout = 10 * time.Second

// Session is the slice of the Discord API the projector needs.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// Record persists which message currently displays the leaderboard.
type Record interface {
	LeaderboardMessageID() string
	SetLeaderboardMessageID(id string) error
}

// Ledger supplies sorted balance snapshots.
type Ledger interface {
	SnapshotSorted() []store.Entry
}

// Projector keeps one leaderboard message consistent with the ledger.
// Reconcile calls are serialized, and each one snapshots the ledger only
// after taking the lock, so the displayed snapshot never moves backwards.
type Projector struct {
	channelID string
	emoji     string
	record    Record
	ledger    Ledger

	mu sync.Mutex
}

func New(channelID, emoji string, record Record, ledger Ledger) *Projector {
	return &Projector{
		channelID: channelID,
		emoji:     emoji,
		record:    record,
		ledger:    ledger,
	}
}

// Render formats a balance snapshot. resolveName turns a user ID into a
// display name; pass nil to fall back to mentions. Pure: same snapshot,
// same output.
func Render(entries []store.Entry, emoji string, resolveName func(userID string) string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")

	if len(entries) == 0 {
		fmt.Fprintf(&b, "No points yet. React %s to a reminder to join the board!", emoji)
		return b.String()
	}

	for i, e := range entries {
		name := "<@" + e.UserID + ">"
		if resolveName != nil {
			name = resolveName(e.UserID)
		}
		fmt.Fprintf(&b, "%d. %s — %d %s\n", i+1, name, e.Balance, emoji)
	}
	return b.String()
}

// Reconcile brings the displayed message up to date with the ledger. If
// no message exists yet, or the recorded one no longer resolves (deleted
// out-of-band), a fresh message is posted and its ID persisted. Failures
// are returned to the caller and naturally retried by whatever event
// triggers the next reconcile.
func (p *Projector) Reconcile(ctx context.Context, s Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, editTimeout)
	defer cancel()

	content := Render(p.ledger.SnapshotSorted(), p.emoji, func(userID string) string {
		u, err := s.User(userID, discordgo.WithContext(ctx))
		if err != nil {
			return "<@" + userID + ">"
		}
		return u.Username
	})

	if id := p.record.LeaderboardMessageID(); id != "" {
		_, err := s.ChannelMessageEdit(p.channelID, id, content, discordgo.WithContext(ctx))
		if err == nil {
			return nil
		}
		if !isUnknownMessage(err) {
			return fmt.Errorf("editing leaderboard message: %w", err)
		}
		slog.Warn("leaderboard message gone, recreating", "message_id", id)
	}

	msg, err := s.ChannelMessageSend(p.channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("posting leaderboard message: %w", err)
	}
	if err := p.record.SetLeaderboardMessageID(msg.ID); err != nil {
		return err
	}
	slog.Info("leaderboard message created", "message_id", msg.ID)
	return nil
}

// isUnknownMessage reports whether err means the target message no
// longer exists, which the projector treats as "recreate", not failure.
func isUnknownMessage(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage
}
