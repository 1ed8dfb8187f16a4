package svg2tgs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"
)

var (
	columnUserID           = "user_id"
	columnUserUsername     = "username"
	columnUserFirstName    = "first_name"
	columnUserBanned       = "banned"
	columnUserLastActivity = "last_activity"
)

// User is a record of a Telegram user, and their current state.
//
//nolint:lll // struct tags can't be split
type User struct {
	//
	// The first set of fields are set from the Telegram user object
	//

	// ID is the Telegram user ID
	ID int64 `json:"id" gorm:"primaryKey;unique"`

	// Username, without the leading '@' (may be empty)
	Username string `json:"username" gorm:"type:string"`

	// First name as shown in the user's profile
	FirstName string `json:"first_name" gorm:"type:string"`

	// Last name (may be empty)
	LastName string `json:"last_name" gorm:"type:string"`

	// Indicates this user is a Telegram bot. Bots are banned by default.
	Bot bool `json:"bot" gorm:"type:bool"`

	//
	// The fields below are bot-specific
	//

	// If true, all submissions and commands from this user are ignored
	Banned bool `json:"banned" gorm:"type:bool;default:false"`

	// LastActivity is the last time this user sent the bot anything
	// (a command, a document, or any other message)
	LastActivity int64 `json:"last_activity" gorm:"column:last_activity"`

	ModelUnixTime
}

func NewUser(u tgbotapi.User) *User {
	user := User{
		ID:           u.ID,
		Username:     u.UserName,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Bot:          u.IsBot,
		LastActivity: time.Now().UTC().UnixMilli(),
	}
	if u.IsBot {
		user.Banned = true
	}
	return &user
}

func (u *User) String() string {
	if u.Username != "" {
		return fmt.Sprintf("@%s [%d]", u.Username, u.ID)
	}
	return fmt.Sprintf("%s [%d]", u.FirstName, u.ID)
}

func (u *User) userChangedTelegramName(tu tgbotapi.User) bool {
	return u.Username != tu.UserName || u.FirstName != tu.FirstName
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("id", u.ID),
		slog.String(columnUserUsername, u.Username),
		slog.String(columnUserFirstName, u.FirstName),
		slog.Bool(columnUserBanned, u.Banned),
	)
}

// ConversionsSince returns this user's ConversionLog records created at or
// after the given time.
func (u *User) ConversionsSince(db *gorm.DB, since time.Time) ([]ConversionLog, error) {
	var logs []ConversionLog
	err := db.Model(&ConversionLog{}).Where(
		"user_id = ? AND created_at >= ?",
		u.ID,
		since.UnixMilli(),
	).Order("created_at").Find(&logs).Error
	return logs, err
}

// UserStats summarizes one user's conversion history.
type UserStats struct {
	Batches        int64 `json:"batches"`
	FilesRequested int64 `json:"files_requested"`
	FilesConverted int64 `json:"files_converted"`
}

func (u *User) getStats(ctx context.Context, db *gorm.DB) (UserStats, error) {
	var stats UserStats

	err := db.WithContext(ctx).Model(&ConversionLog{}).Where(
		"user_id = ?", u.ID,
	).Count(&stats.Batches).Error
	if err != nil {
		return stats, err
	}

	type sums struct {
		Requested int64
		Converted int64
	}
	var s sums
	err = db.WithContext(ctx).Model(&ConversionLog{}).Select(
		"coalesce(sum(files_requested), 0) as requested, coalesce(sum(files_converted), 0) as converted",
	).Where("user_id = ?", u.ID).Scan(&s).Error
	if err != nil {
		return stats, err
	}
	stats.FilesRequested = s.Requested
	stats.FilesConverted = s.Converted
	return stats, nil
}

// ConversionLog records a processed batch: how many files the user
// submitted, and how many produced a sticker. One row per batch, written
// exactly once per batch, whatever the outcome.
type ConversionLog struct {
	ModelUintID

	// BatchID is the identifier assigned when the batch was flushed
	BatchID string `json:"batch_id" gorm:"column:batch_id;index"`

	// UserID is the Telegram user the batch belonged to
	UserID int64 `json:"user_id" gorm:"column:user_id;index"`

	// ChatID is the chat the batch was submitted in
	ChatID int64 `json:"chat_id" gorm:"column:chat_id"`

	// FilesRequested is the number of files in the batch
	FilesRequested int `json:"files_requested" gorm:"column:files_requested"`

	// FilesConverted is the number that produced a sticker
	FilesConverted int `json:"files_converted" gorm:"column:files_converted"`

	ModelUnixTime
}

func (ConversionLog) TableName() string {
	return "conversions"
}

// BotStats is an aggregate usage summary, for the /stats command and
// the status API.
type BotStats struct {
	TotalUsers          int64 `json:"total_users"`
	BannedUsers         int64 `json:"banned_users"`
	ActiveLastDay       int64 `json:"active_last_day"`
	TotalBatches        int64 `json:"total_batches"`
	TotalFilesRequested int64 `json:"total_files_requested"`
	TotalFilesConverted int64 `json:"total_files_converted"`
}

// loadBotStats aggregates usage counters across the users and
// conversions tables.
func loadBotStats(db *gorm.DB) (BotStats, error) {
	var stats BotStats

	if err := db.Model(&User{}).Count(&stats.TotalUsers).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&User{}).Where(
		"banned = ?", true,
	).Count(&stats.BannedUsers).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&User{}).Where(
		"last_activity >= ?",
		time.Now().Add(-24*time.Hour).UnixMilli(),
	).Count(&stats.ActiveLastDay).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&ConversionLog{}).Count(&stats.TotalBatches).Error; err != nil {
		return stats, err
	}

	type sums struct {
		Requested int64
		Converted int64
	}
	var s sums
	err := db.Model(&ConversionLog{}).Select(
		"coalesce(sum(files_requested), 0) as requested, coalesce(sum(files_converted), 0) as converted",
	).Scan(&s).Error
	if err != nil {
		return stats, err
	}
	stats.TotalFilesRequested = s.Requested
	stats.TotalFilesConverted = s.Converted
	return stats, nil
}
