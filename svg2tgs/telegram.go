package svg2tgs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// downloadTimeout bounds fetching a single submitted document from
// Telegram's file servers.
var downloadTimeout = 30 * time.Second

// BroadcastKind discriminates the payload type of a broadcast.
type BroadcastKind string

const (
	BroadcastText     BroadcastKind = "text"
	BroadcastPhoto    BroadcastKind = "photo"
	BroadcastVideo    BroadcastKind = "video"
	BroadcastDocument BroadcastKind = "document"
)

// BroadcastPayload is the content re-sent to every known user by the
// /broadcast command. Media payloads reference Telegram file IDs, so
// the file is never re-uploaded.
type BroadcastPayload struct {
	Kind BroadcastKind `json:"kind"`

	// Text is the message body (BroadcastText), or the caption for
	// media payloads.
	Text string `json:"text,omitempty"`

	// FileID is the Telegram file ID for media payloads
	FileID string `json:"file_id,omitempty"`
}

// broadcastPayloadFromMessage derives a BroadcastPayload from the
// message an admin replied to with /broadcast. Returns an error for
// unsupported message types.
func broadcastPayloadFromMessage(m *tgbotapi.Message) (BroadcastPayload, error) {
	switch {
	case len(m.Photo) > 0:
		// the last size is the largest
		return BroadcastPayload{
			Kind:   BroadcastPhoto,
			Text:   m.Caption,
			FileID: m.Photo[len(m.Photo)-1].FileID,
		}, nil
	case m.Video != nil:
		return BroadcastPayload{
			Kind:   BroadcastVideo,
			Text:   m.Caption,
			FileID: m.Video.FileID,
		}, nil
	case m.Document != nil:
		return BroadcastPayload{
			Kind:   BroadcastDocument,
			Text:   m.Caption,
			FileID: m.Document.FileID,
		}, nil
	case m.Text != "":
		return BroadcastPayload{Kind: BroadcastText, Text: m.Text}, nil
	default:
		return BroadcastPayload{}, errors.New(
			"unsupported message type (text, photo, video or document)",
		)
	}
}

// Messenger is the bot's view of the Telegram API. [telegramMessenger]
// implements it for real traffic; tests substitute a stub.
type Messenger interface {
	// Username returns the bot account's username
	Username() string

	// UpdatesChannel opens the long-poll update stream
	UpdatesChannel() tgbotapi.UpdatesChannel

	// StopReceivingUpdates closes the update stream
	StopReceivingUpdates()

	// SendMessage sends a Markdown text message, returning the sent
	// message's ID (for later edits)
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)

	// EditMessage replaces the text of a previously sent message
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error

	// SendDocument uploads a file as a document attachment
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte) error

	// DownloadFile fetches a submitted file's content by its Telegram
	// file ID
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	// SendBroadcast delivers a broadcast payload to a single chat,
	// subject to the broadcast rate limit
	SendBroadcast(ctx context.Context, chatID int64, payload BroadcastPayload) error
}

type telegramMessenger struct {
	api        *tgbotapi.BotAPI
	config     *TelegramConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// newTelegramMessenger authenticates against the Telegram bot API.
func newTelegramMessenger(
	ctx context.Context,
	cfg *TelegramConfig,
	logger *slog.Logger,
) (*telegramMessenger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	_ = tgbotapi.SetLogger(newTelegramLibLogger(ctx, logger.Handler()))

	api, err := tgbotapi.NewBotAPIWithClient(
		cfg.Token,
		tgbotapi.APIEndpoint,
		httpClient,
	)
	if err != nil {
		return nil, fmt.Errorf("telegram authentication failed: %w", err)
	}

	perSecond := cfg.BroadcastPerSecond
	if perSecond <= 0 {
		perSecond = DefaultBroadcastPerSecond
	}
	burst := cfg.BroadcastBurst
	if burst <= 0 {
		burst = DefaultBroadcastBurst
	}

	return &telegramMessenger{
		api:        api,
		config:     cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:     logger.With(loggerNameKey, "telegram"),
	}, nil
}

func (t *telegramMessenger) Username() string {
	return t.api.Self.UserName
}

func (t *telegramMessenger) UpdatesChannel() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(t.config.PollTimeout / time.Second)
	return t.api.GetUpdatesChan(u)
}

func (t *telegramMessenger) StopReceivingUpdates() {
	t.api.StopReceivingUpdates()
}

func (t *telegramMessenger) SendMessage(
	ctx context.Context,
	chatID int64,
	text string,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramMessenger) EditMessage(
	ctx context.Context,
	chatID int64,
	messageID int,
	text string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	_, err := t.api.Send(edit)
	return err
}

func (t *telegramMessenger) SendDocument(
	ctx context.Context,
	chatID int64,
	filename string,
	data []byte,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(
		chatID,
		tgbotapi.FileBytes{Name: filename, Bytes: data},
	)
	_, err := t.api.Send(doc)
	return err
}

func (t *telegramMessenger) DownloadFile(
	ctx context.Context,
	fileID string,
) ([]byte, error) {
	fileURL, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolving file URL: %w", err)
	}

	_, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, downloadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading file: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (t *telegramMessenger) SendBroadcast(
	ctx context.Context,
	chatID int64,
	payload BroadcastPayload,
) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	var msg tgbotapi.Chattable
	switch payload.Kind {
	case BroadcastText:
		m := tgbotapi.NewMessage(chatID, payload.Text)
		m.ParseMode = tgbotapi.ModeMarkdown
		msg = m
	case BroadcastPhoto:
		m := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(payload.FileID))
		m.Caption = payload.Text
		msg = m
	case BroadcastVideo:
		m := tgbotapi.NewVideo(chatID, tgbotapi.FileID(payload.FileID))
		m.Caption = payload.Text
		msg = m
	case BroadcastDocument:
		m := tgbotapi.NewDocument(chatID, tgbotapi.FileID(payload.FileID))
		m.Caption = payload.Text
		msg = m
	default:
		return fmt.Errorf("unknown broadcast kind: %q", payload.Kind)
	}

	_, err := t.api.Send(msg)
	return err
}
