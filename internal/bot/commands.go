package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"solarbot/internal/leaderboard"
)

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "points",
		Description: "Show your points and leaderboard rank",
	},
	{
		Name:        "leaderboard",
		Description: "Show the current points leaderboard",
	},
	{
		Name:        "adjust",
		Description: "Credit or debit a user's points (admin)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "User whose balance to adjust",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "delta",
				Description: "Points to add (negative to remove)",
				Required:    true,
			},
		},
	},
}

// RegisterCommands overwrites the guild's command set with ours. Bulk
// overwrite is idempotent, so every startup converges to the same set.
func (b *Bot) RegisterCommands(s Session, appID string) error {
	_, err := s.ApplicationCommandBulkOverwrite(appID, b.config.GuildID, commands)
	if err != nil {
		return fmt.Errorf("registering commands: %w", err)
	}
	slog.Info("commands registered", "guild", b.config.GuildID, "count", len(commands))
	return nil
}

func (b *Bot) OnInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.HandleInteraction(context.Background(), s, i)
}

func (b *Bot) HandleInteraction(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	switch i.ApplicationCommandData().Name {
	case "points":
		b.handlePoints(s, i)
	case "leaderboard":
		b.handleLeaderboard(ctx, s, i)
	case "adjust":
		b.handleAdjust(ctx, s, i)
	}
}

func (b *Bot) handlePoints(s Session, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	if userID == "" {
		return
	}

	balance := b.store.Balance(userID)
	rank, ranked := b.store.Rank(userID)

	var reply string
	if ranked {
		reply = fmt.Sprintf("You have **%d** %s and are ranked **#%d**.", balance, b.config.RewardEmoji, rank)
	} else {
		reply = fmt.Sprintf("You have no points yet. React %s to a reminder to earn one!", b.config.RewardEmoji)
	}
	b.respondEphemeral(s, i, reply)
}

func (b *Bot) handleLeaderboard(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	content := leaderboard.Render(b.store.SnapshotSorted(), b.config.RewardEmoji, func(userID string) string {
		u, err := s.User(userID, discordgo.WithContext(ctx))
		if err != nil {
			return "<@" + userID + ">"
		}
		return u.Username
	})
	b.respondEphemeral(s, i, content)
}

func (b *Bot) handleAdjust(ctx context.Context, s Session, i *discordgo.InteractionCreate) {
	if !isAdmin(i) {
		b.respondEphemeral(s, i, "You need the Manage Server permission to adjust points.")
		return
	}

	var (
		targetID string
		delta    int64
	)
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "user":
			// UserValue(nil) resolves only the ID, which is all we need.
			targetID = opt.UserValue(nil).ID
		case "delta":
			delta = opt.IntValue()
		}
	}
	if targetID == "" || delta == 0 {
		b.respondEphemeral(s, i, "Nothing to do: pick a user and a non-zero delta.")
		return
	}

	balance, err := b.store.Adjust(targetID, int(delta))
	if err != nil {
		slog.Error("admin adjustment failed", "user_id", targetID, "delta", delta, "error", err)
		b.respondEphemeral(s, i, "Could not save the adjustment, try again.")
		return
	}

	slog.Info("admin adjustment", "user_id", targetID, "delta", delta, "balance", balance)
	b.respondEphemeral(s, i, fmt.Sprintf("<@%s> now has **%d** %s.", targetID, balance, b.config.RewardEmoji))

	if err := b.projector.Reconcile(ctx, s); err != nil {
		slog.Warn("leaderboard reconciliation failed", "error", err)
	}
}

func (b *Bot) respondEphemeral(s Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Error("interaction reply failed", "error", err)
	}
}

// interactionUserID returns the invoking user's ID for both guild and DM
// interactions.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// isAdmin reports whether the invoker holds the Manage Server permission,
// as resolved by Discord for this interaction.
func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionManageServer != 0
}
