package svg2tgs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	cmdStart     = "start"
	cmdHelp      = "help"
	cmdBan       = "ban"
	cmdUnban     = "unban"
	cmdStats     = "stats"
	cmdBroadcast = "broadcast"
)

const (
	helpMessage = "🔧 **How to use SVGToTGS Bot:**\n\n" +
		"1️⃣ Send me SVG file(s) that are exactly 512×512 pixels\n" +
		"2️⃣ Wait for conversion to complete\n" +
		"3️⃣ Download your TGS sticker files\n\n" +
		"📏 **Requirements:**\n" +
		"• File format: SVG only\n" +
		"• Dimensions: Exactly 512×512 pixels\n" +
		"• File size: Maximum 5MB\n\n" +
		"⚡ **Batch Processing:**\n" +
		"Send multiple SVG files at once for batch conversion!\n\n" +
		"❌ **Common Issues:**\n" +
		"• Wrong dimensions → Resize to 512×512px\n" +
		"• Not SVG format → Convert to SVG first\n" +
		"• File too large → Optimize/compress SVG\n\n" +
		"Need help? Contact support!"

	notAdminMessage = "❌ You don't have permission to use this command."

	pausedMessage = "⏸️ The bot is temporarily paused. Please try again later."

	wrongFileTypeMessage = "❌ Please send only SVG files.\n" +
		"Use /help for more information about requirements."

	fileTooLargeMessage = "❌ File too large! Maximum size is 5MB.\n" +
		"Please compress your SVG file and try again."

	invalidUserIDMessage = "❌ Invalid user ID. Please provide a numeric user ID."

	broadcastUsageMessage = "📢 **Broadcast Command Usage:**\n\n" +
		"`/broadcast <message>`\n\n" +
		"You can also reply to a message (text, photo, video, or document) " +
		"with `/broadcast` to forward it to all users."
)

// isAdmin reports whether the Telegram user ID is configured as an admin
func (b *Bot) isAdmin(userID int64) bool {
	return slices.Contains(b.config.Telegram.AdminIDs, userID)
}

// handleUpdate dispatches a single Telegram update. Only message
// updates are of interest; everything else is dropped.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil {
		return
	}

	logger, ctx := b.getLogger(ctx)
	logger = logger.With(
		slog.Group(
			"message",
			"from_id", m.From.ID,
			"chat_id", m.Chat.ID,
			"message_id", m.MessageID,
		),
	)
	ctx = WithLogger(ctx, logger)

	user, _, err := b.writeDB.GetOrCreateUser(ctx, *m.From)
	if err != nil {
		logger.ErrorContext(ctx, "error loading user", tint.Err(err))
		return
	}

	switch {
	case m.IsCommand():
		b.handleCommand(ctx, user, m)
	case m.Document != nil:
		b.handleDocument(ctx, user, m)
	default:
		logger.DebugContext(ctx, "ignoring message with no command or document")
	}
}

func (b *Bot) handleCommand(
	ctx context.Context,
	user *User,
	m *tgbotapi.Message,
) {
	logger, ctx := b.getLogger(ctx)
	command := m.Command()
	logger.InfoContext(ctx, "received command", "command", command)

	if user.Banned && !b.isAdmin(user.ID) {
		b.reply(ctx, m.Chat.ID, b.RuntimeConfig().BannedMessage)
		return
	}

	switch command {
	case cmdStart:
		b.reply(ctx, m.Chat.ID, b.RuntimeConfig().WelcomeMessage)
	case cmdHelp:
		b.reply(ctx, m.Chat.ID, helpMessage)
	case cmdBan:
		b.banCommand(ctx, user, m, true)
	case cmdUnban:
		b.banCommand(ctx, user, m, false)
	case cmdStats:
		b.statsCommand(ctx, user, m)
	case cmdBroadcast:
		b.broadcastCommand(ctx, user, m)
	default:
		logger.DebugContext(ctx, "unknown command", "command", command)
	}
}

// handleDocument applies the acceptance gates (ban, pause, extension,
// size) and adds accepted submissions to the user's pending batch.
func (b *Bot) handleDocument(
	ctx context.Context,
	user *User,
	m *tgbotapi.Message,
) {
	logger, ctx := b.getLogger(ctx)
	doc := m.Document

	if user.Banned {
		b.reply(ctx, m.Chat.ID, b.RuntimeConfig().BannedMessage)
		return
	}

	if b.paused.Load() && !b.isAdmin(user.ID) {
		b.reply(ctx, m.Chat.ID, pausedMessage)
		return
	}

	if !strings.HasSuffix(strings.ToLower(doc.FileName), ".svg") {
		b.reply(ctx, m.Chat.ID, wrongFileTypeMessage)
		return
	}

	if int64(doc.FileSize) > b.config.Batch.MaxFileSize {
		b.reply(ctx, m.Chat.ID, fileTooLargeMessage)
		return
	}

	pending := b.coalescer.Submit(
		user.ID,
		m.Chat.ID,
		BatchItem{
			FileID:   doc.FileID,
			FileName: doc.FileName,
			FileSize: int64(doc.FileSize),
		},
	)
	logger.InfoContext(
		ctx,
		"accepted submission",
		"file_name", doc.FileName,
		"file_size", doc.FileSize,
		"pending", pending,
	)
}

// banCommand handles /ban and /unban
func (b *Bot) banCommand(
	ctx context.Context,
	admin *User,
	m *tgbotapi.Message,
	ban bool,
) {
	logger, ctx := b.getLogger(ctx)

	if !b.isAdmin(admin.ID) {
		b.reply(ctx, m.Chat.ID, notAdminMessage)
		return
	}

	verb := "unban"
	if ban {
		verb = "ban"
	}

	args := strings.TrimSpace(m.CommandArguments())
	if args == "" {
		b.reply(ctx, m.Chat.ID, fmt.Sprintf("Usage: `/%s <user_id>`", verb))
		return
	}

	targetID, err := strconv.ParseInt(strings.Fields(args)[0], 10, 64)
	if err != nil {
		b.reply(ctx, m.Chat.ID, invalidUserIDMessage)
		return
	}

	if err = b.setUserBanned(ctx, targetID, ban); err != nil {
		logger.ErrorContext(
			ctx,
			"error updating ban state",
			"target_id", targetID,
			"banned", ban,
			tint.Err(err),
		)
		b.reply(
			ctx,
			m.Chat.ID,
			fmt.Sprintf("❌ Error %sning user: %s", verb, err.Error()),
		)
		return
	}

	logger.InfoContext(ctx, "updated ban state", "target_id", targetID, "banned", ban)
	if ban {
		b.reply(ctx, m.Chat.ID, fmt.Sprintf("✅ User %d has been banned.", targetID))
	} else {
		b.reply(ctx, m.Chat.ID, fmt.Sprintf("✅ User %d has been unbanned.", targetID))
	}
}

// setUserBanned flips a user's banned flag, creating a placeholder
// record if the user hasn't been seen yet (so preemptive bans work).
// The read and write run in one transaction so a concurrent update
// can't slip between them.
func (b *Bot) setUserBanned(ctx context.Context, userID int64, banned bool) error {
	err := b.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var user User
			err := tx.Where("id = ?", userID).Last(&user).Error
			switch {
			case err == nil:
				return tx.Model(&user).Update(columnUserBanned, banned).Error
			case errors.Is(err, gorm.ErrRecordNotFound):
				return tx.Create(&User{ID: userID, Banned: banned}).Error
			default:
				return err
			}
		},
	)
	if err != nil {
		return err
	}
	b.writeDB.ReloadUser(userID)
	return nil
}

func (b *Bot) statsCommand(ctx context.Context, admin *User, m *tgbotapi.Message) {
	logger, ctx := b.getLogger(ctx)

	if !b.isAdmin(admin.ID) {
		b.reply(ctx, m.Chat.ID, notAdminMessage)
		return
	}

	stats, err := loadBotStats(b.db.WithContext(ctx))
	if err != nil {
		logger.ErrorContext(ctx, "error loading stats", tint.Err(err))
		b.reply(ctx, m.Chat.ID, "❌ Error loading statistics.")
		return
	}

	statsText := fmt.Sprintf(
		"📊 **Bot Statistics:**\n\n"+
			"👥 Total Users: %d\n"+
			"✅ Active Users: %d\n"+
			"🚫 Banned Users: %d\n"+
			"🔄 Total Conversions: %d\n\n"+
			"📅 Updated: %s",
		stats.TotalUsers,
		stats.TotalUsers-stats.BannedUsers,
		stats.BannedUsers,
		stats.TotalFilesConverted,
		time.Now().Format("2006-01-02 15:04:05"),
	)
	b.reply(ctx, m.Chat.ID, statsText)
}

func (b *Bot) broadcastCommand(ctx context.Context, admin *User, m *tgbotapi.Message) {
	logger, ctx := b.getLogger(ctx)

	if !b.isAdmin(admin.ID) {
		b.reply(ctx, m.Chat.ID, notAdminMessage)
		return
	}

	var payload BroadcastPayload
	switch {
	case m.ReplyToMessage != nil:
		var err error
		payload, err = broadcastPayloadFromMessage(m.ReplyToMessage)
		if err != nil {
			b.reply(ctx, m.Chat.ID, fmt.Sprintf("❌ %s", err.Error()))
			return
		}
	case strings.TrimSpace(m.CommandArguments()) != "":
		payload = BroadcastPayload{
			Kind: BroadcastText,
			Text: strings.TrimSpace(m.CommandArguments()),
		}
	default:
		b.reply(ctx, m.Chat.ID, broadcastUsageMessage)
		return
	}

	var users []User
	if err := b.db.WithContext(ctx).Where(
		"banned = ?", false,
	).Find(&users).Error; err != nil {
		logger.ErrorContext(ctx, "error loading broadcast recipients", tint.Err(err))
		b.reply(ctx, m.Chat.ID, "❌ Error loading users for broadcast.")
		return
	}

	logger.InfoContext(
		ctx,
		"starting broadcast",
		"kind", payload.Kind,
		"recipients", len(users),
	)

	// Deliveries are rate-limited and may take a while, so they run off
	// the update loop. The summary is sent when the last one finishes.
	go func() {
		sent := 0
		for _, user := range users {
			if ctx.Err() != nil {
				break
			}
			if err := b.messenger.SendBroadcast(ctx, user.ID, payload); err != nil {
				logger.WarnContext(
					ctx,
					"failed to send broadcast",
					"target_id", user.ID,
					tint.Err(err),
				)
				continue
			}
			sent++
		}
		logger.InfoContext(ctx, "broadcast finished", "sent", sent)
		b.reply(ctx, m.Chat.ID, fmt.Sprintf("📢 Broadcast sent to %d users.", sent))
	}()
}

// reply sends a message, logging delivery failures
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	logger, ctx := b.getLogger(ctx)
	if _, err := b.messenger.SendMessage(ctx, chatID, text); err != nil {
		logger.WarnContext(ctx, "error sending reply", tint.Err(err))
	}
}
