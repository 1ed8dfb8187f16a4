package svg2tgs

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastPayloadFromMessage(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		payload, err := broadcastPayloadFromMessage(
			&tgbotapi.Message{Text: "announcement"},
		)
		require.NoError(t, err)
		assert.Equal(t, BroadcastText, payload.Kind)
		assert.Equal(t, "announcement", payload.Text)
		assert.Empty(t, payload.FileID)
	})

	t.Run("photo uses largest size", func(t *testing.T) {
		payload, err := broadcastPayloadFromMessage(
			&tgbotapi.Message{
				Photo: []tgbotapi.PhotoSize{
					{FileID: "small", Width: 90},
					{FileID: "medium", Width: 320},
					{FileID: "large", Width: 800},
				},
				Caption: "a picture",
			},
		)
		require.NoError(t, err)
		assert.Equal(t, BroadcastPhoto, payload.Kind)
		assert.Equal(t, "large", payload.FileID)
		assert.Equal(t, "a picture", payload.Text)
	})

	t.Run("video", func(t *testing.T) {
		payload, err := broadcastPayloadFromMessage(
			&tgbotapi.Message{
				Video:   &tgbotapi.Video{FileID: "vid"},
				Caption: "a video",
			},
		)
		require.NoError(t, err)
		assert.Equal(t, BroadcastVideo, payload.Kind)
		assert.Equal(t, "vid", payload.FileID)
	})

	t.Run("document", func(t *testing.T) {
		payload, err := broadcastPayloadFromMessage(
			&tgbotapi.Message{
				Document: &tgbotapi.Document{FileID: "doc"},
			},
		)
		require.NoError(t, err)
		assert.Equal(t, BroadcastDocument, payload.Kind)
		assert.Equal(t, "doc", payload.FileID)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := broadcastPayloadFromMessage(
			&tgbotapi.Message{
				Sticker: &tgbotapi.Sticker{FileID: "sticker"},
			},
		)
		require.Error(t, err)
	})
}
