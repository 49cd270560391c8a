package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"solarbot/internal/config"
	"solarbot/internal/leaderboard"
	"solarbot/internal/schedule"
	"solarbot/internal/store"
	"solarbot/internal/tracker"
)

// maxTickInterval caps how rarely the scheduler re-evaluates its
// level-triggered check.
const maxTickInterval = 30 * time.Second

type Bot struct {
	config    *config.Config
	store     *store.Store
	tracker   *tracker.Tracker
	projector *leaderboard.Projector

	mu        sync.RWMutex
	ready     bool
	botUserID string
	cancel    context.CancelFunc
}

func New(cfg *config.Config, st *store.Store) *Bot {
	return &Bot{
		config:    cfg,
		store:     st,
		tracker:   tracker.New(cfg.TrackedReminders),
		projector: leaderboard.New(cfg.LeaderboardChannelID, cfg.RewardEmoji, st, st),
	}
}

func (b *Bot) OnReady(s *discordgo.Session, event *discordgo.Ready) {
	slog.Info("logged in", "username", event.User.Username, "discriminator", event.User.Discriminator)

	b.mu.Lock()
	if b.ready {
		// Reconnect; scheduler is already running.
		b.mu.Unlock()
		return
	}
	b.ready = true
	b.botUserID = event.User.ID
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	if err := b.RegisterCommands(s, event.User.ID); err != nil {
		slog.Error("command registration failed", "error", err)
	}

	sched := schedule.New(b.config, b.store, func(ctx context.Context, slot time.Time) error {
		return b.PostReminder(ctx, s, slot)
	})
	go sched.Run(ctx, b.tickInterval())
}

// tickInterval derives the scheduler polling period from the reminder
// interval: frequent enough to fire close to slot boundaries, never more
// often than once a second.
func (b *Bot) tickInterval() time.Duration {
	tick := b.config.ReminderInterval / 10
	if tick > maxTickInterval {
		tick = maxTickInterval
	}
	if tick < time.Second {
		tick = time.Second
	}
	return tick
}

func (b *Bot) Shutdown() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// PostReminder posts one reminder message, starts tracking claims on it,
// and seeds the bot's own reward reaction. The tracker entry is created
// before the seed reaction so no early human reaction can race past an
// untracked message.
func (b *Bot) PostReminder(ctx context.Context, s Session, slot time.Time) error {
	msg, err := s.ChannelMessageSend(b.config.SolarChannelID, b.config.ReminderTemplate, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("posting reminder: %w", err)
	}

	b.tracker.Register(msg.ID)

	if err := s.MessageReactionAdd(b.config.SolarChannelID, msg.ID, b.config.RewardEmoji, discordgo.WithContext(ctx)); err != nil {
		// The reminder is live and tracked; a missing seed reaction is
		// cosmetic.
		slog.Warn("failed to seed reward reaction", "message_id", msg.ID, "error", err)
	}
	return nil
}

func (b *Bot) OnReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	b.HandleReaction(context.Background(), s, r)
}

// HandleReaction credits a user for reacting to a tracked reminder with
// the reward emoji, then brings the leaderboard up to date. Everything
// that makes the event uninteresting (bot reactor, wrong emoji, unknown
// message, repeat claim) is a silent no-op.
func (b *Bot) HandleReaction(ctx context.Context, s Session, r *discordgo.MessageReactionAdd) {
	if !b.ShouldProcessReaction(r) {
		return
	}

	if !b.tracker.TryClaim(r.MessageID, r.UserID) {
		return
	}

	balance, err := b.store.Adjust(r.UserID, +1)
	if err != nil {
		// Undo the claim so the user can be credited on a later attempt
		// instead of losing the point forever.
		b.tracker.Release(r.MessageID, r.UserID)
		slog.Error("failed to credit point", "user_id", r.UserID, "error", err)
		return
	}

	slog.Info("point awarded", "user_id", r.UserID, "message_id", r.MessageID, "balance", balance)

	if err := b.projector.Reconcile(ctx, s); err != nil {
		// Retried on the next claim or command; the ledger is already
		// durable.
		slog.Warn("leaderboard reconciliation failed", "error", err)
	}
}

func (b *Bot) ShouldProcessReaction(r *discordgo.MessageReactionAdd) bool {
	b.mu.RLock()
	ready := b.ready
	botUserID := b.botUserID
	b.mu.RUnlock()

	if !ready {
		return false
	}
	if r.UserID == botUserID {
		return false
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return false
	}
	if r.Emoji.Name != b.config.RewardEmoji {
		return false
	}
	return true
}
