package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Schedule policies for the reminder scheduler.
const (
	PolicyAligned  = "aligned"  // slots aligned to wall-clock boundaries
	PolicyInterval = "interval" // fixed elapsed time since the last fire
)

const defaultTemplate = "🔧 **Repair all solar panels if planted**\n" +
	"**Bonus will be provided 💰**\n\n" +
	"🟢 *React if repaired*"

type Config struct {
	Token                string        // Discord bot token
	GuildID              string        // Server ID for command registration
	SolarChannelID       string        // Channel reminders are posted to
	LeaderboardChannelID string        // Channel holding the leaderboard message
	RewardEmoji          string        // Emoji that earns a point
	ReminderInterval     time.Duration // Slot length / elapsed interval
	SchedulePolicy       string        // PolicyAligned or PolicyInterval
	ScheduleLocation     *time.Location
	ReminderTemplate     string // Body of the reminder message
	DataPath             string // BoltDB file path
	TrackedReminders     int    // How many recent reminders accept claims
}

// fileConfig holds the non-secret knobs loadable from a YAML file.
// The token is deliberately absent: it only comes from the environment.
type fileConfig struct {
	GuildID              string `yaml:"guild_id"`
	SolarChannelID       string `yaml:"solar_channel_id"`
	LeaderboardChannelID string `yaml:"leaderboard_channel_id"`
	RewardEmoji          string `yaml:"reward_emoji"`
	ReminderInterval     string `yaml:"reminder_interval"`
	SchedulePolicy       string `yaml:"schedule_policy"`
	ScheduleTimezone     string `yaml:"schedule_timezone"`
	ReminderTemplate     string `yaml:"reminder_template"`
	DataPath             string `yaml:"data_path"`
	TrackedReminders     int    `yaml:"tracked_reminders"`
}

// Load builds the configuration from the environment, layered over an
// optional YAML file named by SOLARBOT_CONFIG. Environment variables win.
func Load() (*Config, error) {
	var fc fileConfig
	if path := os.Getenv("SOLARBOT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Token:                os.Getenv("DISCORD_TOKEN"),
		GuildID:              firstOf(os.Getenv("DISCORD_GUILD_ID"), fc.GuildID),
		SolarChannelID:       firstOf(os.Getenv("SOLAR_CHANNEL_ID"), fc.SolarChannelID),
		LeaderboardChannelID: firstOf(os.Getenv("LEADERBOARD_CHANNEL_ID"), fc.LeaderboardChannelID),
		RewardEmoji:          firstOf(os.Getenv("REWARD_EMOJI"), fc.RewardEmoji),
		SchedulePolicy:       firstOf(os.Getenv("SCHEDULE_POLICY"), fc.SchedulePolicy),
		ReminderTemplate:     firstOf(os.Getenv("REMINDER_TEMPLATE"), fc.ReminderTemplate),
		DataPath:             firstOf(os.Getenv("DATA_PATH"), fc.DataPath),
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("DISCORD_GUILD_ID is required")
	}
	if cfg.SolarChannelID == "" {
		return nil, fmt.Errorf("SOLAR_CHANNEL_ID is required")
	}
	if cfg.LeaderboardChannelID == "" {
		return nil, fmt.Errorf("LEADERBOARD_CHANNEL_ID is required")
	}

	if cfg.RewardEmoji == "" {
		cfg.RewardEmoji = "🌿"
	}
	if cfg.SchedulePolicy == "" {
		cfg.SchedulePolicy = PolicyAligned
	}
	if cfg.SchedulePolicy != PolicyAligned && cfg.SchedulePolicy != PolicyInterval {
		return nil, fmt.Errorf("SCHEDULE_POLICY must be %q or %q, got %q",
			PolicyAligned, PolicyInterval, cfg.SchedulePolicy)
	}
	if cfg.ReminderTemplate == "" {
		cfg.ReminderTemplate = defaultTemplate
	}
	if cfg.DataPath == "" {
		cfg.DataPath = "solarbot.db"
	}

	interval := firstOf(os.Getenv("REMINDER_INTERVAL"), fc.ReminderInterval)
	if interval == "" {
		cfg.ReminderInterval = 30 * time.Minute
	} else {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid REMINDER_INTERVAL %q: %w", interval, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("REMINDER_INTERVAL must be positive, got %s", d)
		}
		cfg.ReminderInterval = d
	}

	tz := firstOf(os.Getenv("SCHEDULE_TIMEZONE"), fc.ScheduleTimezone)
	if tz == "" {
		cfg.ScheduleLocation = time.UTC
	} else {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", tz, err)
		}
		cfg.ScheduleLocation = loc
	}

	tracked := os.Getenv("TRACKED_REMINDERS")
	switch {
	case tracked != "":
		n, err := strconv.Atoi(tracked)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("TRACKED_REMINDERS must be a positive integer, got %q", tracked)
		}
		cfg.TrackedReminders = n
	case fc.TrackedReminders > 0:
		cfg.TrackedReminders = fc.TrackedReminders
	default:
		cfg.TrackedReminders = 5
	}

	return cfg, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
