package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/linecore/pkg/models"
	testdb "github.com/chatbridge/linecore/test/database"
)

func TestConversationService_GetOrCreate(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewConversationService(client)
	botID := seedBot(t, client, "owner-1", "support-bot")
	ctx := context.Background()

	t.Run("creates conversation on first contact", func(t *testing.T) {
		conv, err := svc.GetOrCreate(ctx, botID, "U1000")
		require.NoError(t, err)
		assert.Equal(t, botID, conv.BotID)
		assert.Equal(t, "U1000", conv.LineUserID)
		assert.False(t, conv.CreatedAt.IsZero())
	})

	t.Run("returns the same conversation on repeat contact", func(t *testing.T) {
		first, err := svc.GetOrCreate(ctx, botID, "U2000")
		require.NoError(t, err)

		second, err := svc.GetOrCreate(ctx, botID, "U2000")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("rejects empty line user id", func(t *testing.T) {
		_, err := svc.GetOrCreate(ctx, botID, "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "line_user_id", verr.Field)
	})
}

func TestConversationService_AppendUserMessage(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewConversationService(client)
	botID := seedBot(t, client, "owner-1", "support-bot")
	ctx := context.Background()

	t.Run("persists inbound message", func(t *testing.T) {
		msg, isNew, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
			BotID:         botID,
			LineUserID:    "U1",
			LineMessageID: strptr("wh-msg-1"),
			MessageType:   models.MessageTypeText,
			Content:       models.JSONMap{"text": "hello"},
		})
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.Equal(t, models.SenderUser, msg.SenderType)
		assert.Equal(t, models.EventTypeMessage, msg.EventType)
		assert.Equal(t, "hello", msg.Content["text"])
		require.NotNil(t, msg.LineMessageID)
		assert.Equal(t, "wh-msg-1", *msg.LineMessageID)
	})

	t.Run("redelivery returns the stored message without inserting", func(t *testing.T) {
		in := models.AppendUserMessageInput{
			BotID:         botID,
			LineUserID:    "U2",
			LineMessageID: strptr("wh-msg-2"),
			MessageType:   models.MessageTypeText,
			Content:       models.JSONMap{"text": "first delivery"},
		}

		original, isNew, err := svc.AppendUserMessage(ctx, in)
		require.NoError(t, err)
		require.True(t, isNew)

		// LINE redelivers the identical event after a timeout.
		in.Content = models.JSONMap{"text": "second delivery"}
		replay, isNew, err := svc.AppendUserMessage(ctx, in)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, original.ID, replay.ID)
		assert.Equal(t, "first delivery", replay.Content["text"])

		page, err := svc.ListMessages(ctx, botID, "U2", models.MessageFilters{})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("messages without line message id never dedup", func(t *testing.T) {
		in := models.AppendUserMessageInput{
			BotID:       botID,
			LineUserID:  "U3",
			EventType:   models.EventTypeFollow,
			MessageType: models.MessageTypeEvent,
		}

		first, isNew, err := svc.AppendUserMessage(ctx, in)
		require.NoError(t, err)
		assert.True(t, isNew)

		second, isNew, err := svc.AppendUserMessage(ctx, in)
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("defaults event type and content", func(t *testing.T) {
		msg, _, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
			BotID:       botID,
			LineUserID:  "U4",
			MessageType: models.MessageTypeSticker,
		})
		require.NoError(t, err)
		assert.Equal(t, models.EventTypeMessage, msg.EventType)
		assert.NotNil(t, msg.Content)
	})

	t.Run("validates required fields", func(t *testing.T) {
		_, _, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
			BotID:       botID,
			MessageType: models.MessageTypeText,
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "line_user_id", verr.Field)

		_, _, err = svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
			BotID:      botID,
			LineUserID: "U5",
		})
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "message_type", verr.Field)
	})
}

func TestConversationService_AppendBotAndAdminMessages(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewConversationService(client)
	botID := seedBot(t, client, "owner-1", "support-bot")
	ctx := context.Background()

	t.Run("persists bot reply with media url", func(t *testing.T) {
		msg, err := svc.AppendBotMessage(ctx, models.AppendBotMessageInput{
			BotID:       botID,
			LineUserID:  "U1",
			MessageType: models.MessageTypeImage,
			Content:     models.JSONMap{"alt_text": "chart"},
			MediaURL:    strptr("https://bots.example.com/media/chart.png"),
		})
		require.NoError(t, err)
		assert.Equal(t, models.SenderBot, msg.SenderType)
		require.NotNil(t, msg.MediaURL)
		assert.Equal(t, "https://bots.example.com/media/chart.png", *msg.MediaURL)
	})

	t.Run("persists admin message with operator identity", func(t *testing.T) {
		msg, err := svc.AppendAdminMessage(ctx, models.AppendAdminMessageInput{
			BotID:      botID,
			LineUserID: "U1",
			Content:    models.JSONMap{"text": "an operator will follow up"},
			Admin:      models.AdminUser{ID: "alice", Email: "alice@example.com"},
		})
		require.NoError(t, err)
		assert.Equal(t, models.SenderAdmin, msg.SenderType)
		assert.Equal(t, models.MessageTypeText, msg.MessageType)
		require.NotNil(t, msg.AdminUser)
		assert.Equal(t, "alice", msg.AdminUser["id"])
		assert.Equal(t, "alice@example.com", msg.AdminUser["email"])
	})

	t.Run("admin identity is required", func(t *testing.T) {
		_, err := svc.AppendAdminMessage(ctx, models.AppendAdminMessageInput{
			BotID:      botID,
			LineUserID: "U1",
			Content:    models.JSONMap{"text": "anonymous"},
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "admin_user", verr.Field)
	})

	t.Run("appends bump conversation activity", func(t *testing.T) {
		conv, err := svc.GetOrCreate(ctx, botID, "U1")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		msg, err := svc.AppendBotMessage(ctx, models.AppendBotMessageInput{
			BotID:       botID,
			LineUserID:  "U1",
			MessageType: models.MessageTypeText,
			Content:     models.JSONMap{"text": "later"},
		})
		require.NoError(t, err)

		refreshed, err := svc.GetOrCreate(ctx, botID, "U1")
		require.NoError(t, err)
		assert.True(t, refreshed.LastMessageAt.After(conv.LastMessageAt))
		assert.WithinDuration(t, msg.CreatedAt, refreshed.LastMessageAt, time.Millisecond)
	})
}

func TestConversationService_ListMessages(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewConversationService(client)
	botID := seedBot(t, client, "owner-1", "support-bot")
	ctx := context.Background()

	// One conversation with a user, bot, admin exchange plus a legacy media
	// message (no line_message_id, nothing fetched).
	userMsg, _, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
		BotID:         botID,
		LineUserID:    "U1",
		LineMessageID: strptr("m-1"),
		MessageType:   models.MessageTypeText,
		Content:       models.JSONMap{"text": "question"},
	})
	require.NoError(t, err)

	botMsg, err := svc.AppendBotMessage(ctx, models.AppendBotMessageInput{
		BotID:       botID,
		LineUserID:  "U1",
		MessageType: models.MessageTypeText,
		Content:     models.JSONMap{"text": "answer"},
	})
	require.NoError(t, err)

	adminMsg, err := svc.AppendAdminMessage(ctx, models.AppendAdminMessageInput{
		BotID:      botID,
		LineUserID: "U1",
		Content:    models.JSONMap{"text": "follow up"},
		Admin:      models.AdminUser{ID: "alice"},
	})
	require.NoError(t, err)

	legacyMsg, _, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
		BotID:       botID,
		LineUserID:  "U1",
		MessageType: models.MessageTypeImage,
	})
	require.NoError(t, err)

	t.Run("returns ascending order with total", func(t *testing.T) {
		page, err := svc.ListMessages(ctx, botID, "U1", models.MessageFilters{})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		require.Len(t, page.Messages, 4)
		assert.Equal(t, userMsg.ID, page.Messages[0].ID)
		assert.Equal(t, botMsg.ID, page.Messages[1].ID)
		assert.Equal(t, adminMsg.ID, page.Messages[2].ID)
		assert.Equal(t, legacyMsg.ID, page.Messages[3].ID)
	})

	t.Run("filters by sender type", func(t *testing.T) {
		page, err := svc.ListMessages(ctx, botID, "U1", models.MessageFilters{SenderType: models.SenderAdmin})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, adminMsg.ID, page.Messages[0].ID)
	})

	t.Run("pages with limit and offset", func(t *testing.T) {
		page, err := svc.ListMessages(ctx, botID, "U1", models.MessageFilters{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		require.Len(t, page.Messages, 2)
		assert.Equal(t, botMsg.ID, page.Messages[0].ID)
		assert.Equal(t, adminMsg.ID, page.Messages[1].ID)
	})

	t.Run("clamps out of range paging", func(t *testing.T) {
		page, err := svc.ListMessages(ctx, botID, "U1", models.MessageFilters{Limit: 100000, Offset: -5})
		require.NoError(t, err)
		assert.Equal(t, maxMessageLimit, page.Limit)
		assert.Equal(t, 0, page.Offset)
	})

	t.Run("marks legacy media", func(t *testing.T) {
		page, err := svc.ListMessages(ctx, botID, "U1", models.MessageFilters{})
		require.NoError(t, err)
		require.Len(t, page.Messages, 4)
		assert.Equal(t, true, page.Messages[3].Content["legacy_media"])
		_, marked := page.Messages[0].Content["legacy_media"]
		assert.False(t, marked)
	})

	t.Run("unknown user gets an empty page", func(t *testing.T) {
		page, err := svc.ListMessages(ctx, botID, "U-nobody", models.MessageFilters{})
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
		assert.Empty(t, page.Messages)
	})
}

func TestConversationService_RecentMessages(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewConversationService(client)
	botID := seedBot(t, client, "owner-1", "support-bot")
	ctx := context.Background()

	var ids []int64
	for _, text := range []string{"one", "two", "three", "four"} {
		msg, _, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
			BotID:       botID,
			LineUserID:  "U1",
			MessageType: models.MessageTypeText,
			Content:     models.JSONMap{"text": text},
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	t.Run("returns the newest n oldest first", func(t *testing.T) {
		history, err := svc.RecentMessages(ctx, botID, "U1", 2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, ids[2], history[0].ID)
		assert.Equal(t, ids[3], history[1].ID)
	})

	t.Run("returns everything when n exceeds the count", func(t *testing.T) {
		history, err := svc.RecentMessages(ctx, botID, "U1", 50)
		require.NoError(t, err)
		assert.Len(t, history, 4)
	})

	t.Run("no conversation means no history", func(t *testing.T) {
		history, err := svc.RecentMessages(ctx, botID, "U-nobody", 5)
		require.NoError(t, err)
		assert.Nil(t, history)
	})

	t.Run("non-positive n short-circuits", func(t *testing.T) {
		history, err := svc.RecentMessages(ctx, botID, "U1", 0)
		require.NoError(t, err)
		assert.Nil(t, history)
	})
}

func TestConversationService_ListConversations(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewConversationService(client)
	botID := seedBot(t, client, "owner-1", "support-bot")
	otherBotID := seedBot(t, client, "owner-2", "other-bot")
	ctx := context.Background()

	_, _, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
		BotID:       botID,
		LineUserID:  "U-alpha",
		MessageType: models.MessageTypeText,
		Content:     models.JSONMap{"text": "older thread"},
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, _, err = svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
		BotID:       botID,
		LineUserID:  "U-beta",
		MessageType: models.MessageTypeSticker,
		Content:     models.JSONMap{"sticker_id": "52002734"},
	})
	require.NoError(t, err)

	// Another bot's traffic must never leak into the page.
	_, _, err = svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
		BotID:       otherBotID,
		LineUserID:  "U-gamma",
		MessageType: models.MessageTypeText,
		Content:     models.JSONMap{"text": "unrelated"},
	})
	require.NoError(t, err)

	t.Run("most recently active first with previews", func(t *testing.T) {
		page, err := svc.ListConversations(ctx, botID, 0, 0, "")
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		require.Len(t, page.Conversations, 2)

		first := page.Conversations[0]
		assert.Equal(t, "U-beta", first.LineUserID)
		assert.Equal(t, models.MessageTypeSticker, first.LastMessageType)
		assert.Equal(t, "[sticker]", first.LastMessagePreview)
		assert.Equal(t, 1, first.MessageCount)

		second := page.Conversations[1]
		assert.Equal(t, "U-alpha", second.LineUserID)
		assert.Equal(t, "older thread", second.LastMessagePreview)
	})

	t.Run("searches by line user id", func(t *testing.T) {
		page, err := svc.ListConversations(ctx, botID, 0, 0, "ALPHA")
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		require.Len(t, page.Conversations, 1)
		assert.Equal(t, "U-alpha", page.Conversations[0].LineUserID)
	})

	t.Run("pages and clamps", func(t *testing.T) {
		page, err := svc.ListConversations(ctx, botID, 1, 1, "")
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		require.Len(t, page.Conversations, 1)
		assert.Equal(t, "U-alpha", page.Conversations[0].LineUserID)

		page, err = svc.ListConversations(ctx, botID, 100000, -3, "")
		require.NoError(t, err)
		assert.Equal(t, maxConversationLimit, page.Limit)
		assert.Equal(t, 0, page.Offset)
	})
}

func TestConversationService_Stats(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewConversationService(client)
	botID := seedBot(t, client, "owner-1", "support-bot")
	ctx := context.Background()

	for _, user := range []string{"U1", "U2"} {
		_, _, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
			BotID:       botID,
			LineUserID:  user,
			MessageType: models.MessageTypeText,
			Content:     models.JSONMap{"text": "hi"},
		})
		require.NoError(t, err)
	}
	_, err := svc.AppendBotMessage(ctx, models.AppendBotMessageInput{
		BotID:       botID,
		LineUserID:  "U1",
		MessageType: models.MessageTypeText,
		Content:     models.JSONMap{"text": "hello"},
	})
	require.NoError(t, err)
	_, err = svc.AppendAdminMessage(ctx, models.AppendAdminMessageInput{
		BotID:      botID,
		LineUserID: "U2",
		Content:    models.JSONMap{"text": "checking in"},
		Admin:      models.AdminUser{ID: "alice"},
	})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Conversations)
	assert.Equal(t, 4, stats.TotalMessages)
	assert.Equal(t, 2, stats.UserMessages)
	assert.Equal(t, 1, stats.BotMessages)
	assert.Equal(t, 1, stats.AdminMessages)
}

func TestConversationService_MediaPatchAndPending(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := NewConversationService(client)
	botID := seedBot(t, client, "owner-1", "support-bot")
	ctx := context.Background()

	pendingMsg, _, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
		BotID:         botID,
		LineUserID:    "U1",
		LineMessageID: strptr("media-1"),
		MessageType:   models.MessageTypeImage,
	})
	require.NoError(t, err)

	// Text messages and media without a line_message_id are not fetchable.
	_, _, err = svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
		BotID:         botID,
		LineUserID:    "U1",
		LineMessageID: strptr("text-1"),
		MessageType:   models.MessageTypeText,
		Content:       models.JSONMap{"text": "hi"},
	})
	require.NoError(t, err)
	_, _, err = svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
		BotID:       botID,
		LineUserID:  "U1",
		MessageType: models.MessageTypeVideo,
	})
	require.NoError(t, err)

	t.Run("lists only fetchable media", func(t *testing.T) {
		pending, err := svc.ListPendingMedia(ctx, botID, 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, pendingMsg.ID, pending[0].ID)
	})

	t.Run("patch fills both fields once", func(t *testing.T) {
		patched, err := svc.PatchMedia(ctx, pendingMsg.ID, "bot/img/media-1.jpg", "https://bots.example.com/media/media-1.jpg")
		require.NoError(t, err)
		assert.True(t, patched)

		msg, err := svc.GetMessage(ctx, pendingMsg.ID)
		require.NoError(t, err)
		require.NotNil(t, msg.MediaPath)
		assert.Equal(t, "bot/img/media-1.jpg", *msg.MediaPath)
		require.NotNil(t, msg.MediaURL)
		assert.Equal(t, "https://bots.example.com/media/media-1.jpg", *msg.MediaURL)

		// A second fetch must not overwrite the stored object.
		patched, err = svc.PatchMedia(ctx, pendingMsg.ID, "bot/img/other.jpg", "https://bots.example.com/media/other.jpg")
		require.NoError(t, err)
		assert.False(t, patched)
	})

	t.Run("patched media leaves the pending list", func(t *testing.T) {
		pending, err := svc.ListPendingMedia(ctx, botID, 0)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("patch validates inputs", func(t *testing.T) {
		_, err := svc.PatchMedia(ctx, pendingMsg.ID, "", "https://bots.example.com/media/x.jpg")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "media", verr.Field)
	})

	t.Run("get message not found", func(t *testing.T) {
		_, err := svc.GetMessage(ctx, 999999)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
