package svg2tgs

import (
	"log/slog"
)

var (
	columnRuntimeConfigPaused        = "paused"
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
)

const (
	DefaultWelcomeMessage = "🎨 Welcome to SVGToTGS Bot!\n\n" +
		"I can convert your 512×512 SVG files into TGS stickers for Telegram.\n\n" +
		"📋 **Requirements:**\n" +
		"• SVG files only\n" +
		"• Exactly 512×512 pixels\n" +
		"• Maximum 5MB file size\n" +
		"• Batch processing supported\n\n" +
		"📤 Just send me your SVG file(s) and I'll convert them to TGS!\n\n" +
		"Use /help for more information."

	DefaultBannedMessage = "❌ You are banned from using this bot."
)

// RuntimeConfig stores settings that can be modified at runtime and are
// persisted across restarts, such as the bot being paused. Exactly one
// row exists.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused indicates whether the bot is currently paused. While paused,
	// non-admin submissions are acknowledged but not accepted.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// WelcomeMessage is the reply to /start and /help
	WelcomeMessage string `json:"welcome_message" gorm:"type:string" binding:"min=1,max=4096"`

	// BannedMessage is the reply sent to banned users
	BannedMessage string `json:"banned_message" gorm:"type:string" binding:"min=1,max=4096"`

	// AdminUsername for the status API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`

	// LogLevel is the general logging level for the application.
	LogLevel DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// TelegramLogLevel is the logging level for Telegram-related operations.
	TelegramLogLevel DBLogLevel `gorm:"default:WARN;type:string;check:telegram_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"telegram_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DatabaseLogLevel is the logging level for database operations.
	DatabaseLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// APILogLevel is the logging level for API operations.
	APILogLevel DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		WelcomeMessage:   DefaultWelcomeMessage,
		BannedMessage:    DefaultBannedMessage,
		LogLevel:         DBLogLevel(slog.LevelInfo.String()),
		TelegramLogLevel: DBLogLevel(slog.LevelWarn.String()),
		DatabaseLogLevel: DBLogLevel(slog.LevelInfo.String()),
		APILogLevel:      DBLogLevel(slog.LevelInfo.String()),
	}
}

// RuntimeConfigUpdate is the PATCH payload for the status API's config
// endpoint. Nil fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused *bool `json:"paused,omitempty"`

	WelcomeMessage *string `json:"welcome_message,omitempty" binding:"omitnil,min=1,max=4096"`
	BannedMessage  *string `json:"banned_message,omitempty" binding:"omitnil,min=1,max=4096"`

	LogLevel         *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	TelegramLogLevel *DBLogLevel `json:"telegram_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel      *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}
