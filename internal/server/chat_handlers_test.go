package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"mazl/internal/models"
	"mazl/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messagesPath(convID uint) string {
	return fmt.Sprintf("/api/conversations/%d/messages", convID)
}

func TestSendMessage_FansOutToParticipants(t *testing.T) {
	e := newTestEnv(t, "match_realtime=off")
	conv := e.match(t, 1, 2)

	sender := e.attach(t, 1)
	senderTablet := e.attach(t, 1)
	recipient := e.attach(t, 2)
	outsider := e.attach(t, 3)

	resp := e.do(t, http.MethodPost, messagesPath(conv.ID), 1, fiber.Map{"content": "  hey there  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[models.Message](t, resp)
	assert.Equal(t, "hey there", msg.Content)
	assert.Equal(t, uint(1), msg.SenderID)

	for _, c := range []*notifications.Client{sender, senderTablet, recipient} {
		f := nextFrame(t, c)
		assert.Equal(t, string(notifications.EventMessageCreated), f.Type)
		assert.Equal(t, conv.ID, f.ConversationID)
		assert.Equal(t, uint(1), f.UserID)

		var got models.Message
		require.NoError(t, json.Unmarshal(f.Payload, &got))
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, "hey there", got.Content)
	}
	assertNoFrame(t, outsider)
}

func TestSendMessage_Rejections(t *testing.T) {
	e := newTestEnv(t, "")
	conv := e.match(t, 1, 2)

	resp := e.do(t, http.MethodPost, messagesPath(conv.ID), 3, fiber.Map{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.do(t, http.MethodPost, messagesPath(conv.ID+100), 1, fiber.Map{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "a missing conversation looks like a foreign one")

	resp = e.do(t, http.MethodPost, messagesPath(conv.ID), 1, fiber.Map{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var count int64
	require.NoError(t, e.db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGetMessages_Pagination(t *testing.T) {
	e := newTestEnv(t, "")
	conv := e.match(t, 1, 2)

	for i := 0; i < 5; i++ {
		resp := e.do(t, http.MethodPost, messagesPath(conv.ID), uint(1+i%2), fiber.Map{"content": fmt.Sprintf("m%d", i)})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := e.do(t, http.MethodGet, messagesPath(conv.ID), 2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[[]models.Message](t, resp)
	require.Len(t, all, 5)
	assert.Equal(t, "m0", all[0].Content)
	assert.Equal(t, "m4", all[4].Content)

	resp = e.do(t, http.MethodGet, messagesPath(conv.ID)+"?limit=2&offset=1", 2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[[]models.Message](t, resp)
	require.Len(t, page, 2)
	assert.Equal(t, "m2", page[0].Content)
	assert.Equal(t, "m3", page[1].Content)

	resp = e.do(t, http.MethodGet, messagesPath(conv.ID)+"?offset=50", 2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]models.Message](t, resp))

	for _, q := range []string{"?offset=-1", "?limit=abc"} {
		resp = e.do(t, http.MethodGet, messagesPath(conv.ID)+q, 2, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp = e.do(t, http.MethodGet, messagesPath(conv.ID), 4, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMarkRead_PublishesReceipt(t *testing.T) {
	e := newTestEnv(t, "match_realtime=off")
	conv := e.match(t, 1, 2)

	for i := 0; i < 2; i++ {
		resp := e.do(t, http.MethodPost, messagesPath(conv.ID), 1, fiber.Map{"content": "ping"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	sender := e.attach(t, 1)
	readPath := fmt.Sprintf("/api/conversations/%d/read", conv.ID)

	resp := e.do(t, http.MethodPost, readPath, 2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, decode[map[string]int64](t, resp)["read_count"])

	f := nextFrame(t, sender)
	assert.Equal(t, string(notifications.EventReadReceipt), f.Type)
	var receipt notifications.ReadReceiptPayload
	require.NoError(t, json.Unmarshal(f.Payload, &receipt))
	assert.Equal(t, uint(2), receipt.ReaderID)
	assert.EqualValues(t, 2, receipt.ReadCount)

	var stored models.Message
	require.NoError(t, e.db.Where("conversation_id = ? AND sender_id = ?", conv.ID, 1).First(&stored).Error)
	require.NotNil(t, stored.ReadAt)
	assert.True(t, stored.ReadAt.Equal(receipt.ReadAt), "receipt carries the persisted read_at")

	// Nothing left to read: no second receipt.
	resp = e.do(t, http.MethodPost, readPath, 2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, decode[map[string]int64](t, resp)["read_count"])
	assertNoFrame(t, sender)

	resp = e.do(t, http.MethodPost, readPath, 5, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGetConversations_Inbox(t *testing.T) {
	e := newTestEnv(t, "")
	quiet := e.match(t, 1, 2)
	busy := e.match(t, 1, 3)

	resp := e.do(t, http.MethodPost, messagesPath(quiet.ID), 2, fiber.Map{"content": "remember me?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	e.attach(t, 2)

	resp = e.do(t, http.MethodGet, "/api/conversations", 1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inbox := decode[[]models.ConversationSummary](t, resp)
	require.Len(t, inbox, 2)

	assert.Equal(t, quiet.ID, inbox[0].ID, "latest activity first")
	assert.EqualValues(t, 1, inbox[0].UnreadCount)
	assert.True(t, inbox[0].Online)
	require.NotNil(t, inbox[0].LastMessage)
	assert.Equal(t, "remember me?", inbox[0].LastMessage.Content)

	assert.Equal(t, busy.ID, inbox[1].ID)
	assert.Zero(t, inbox[1].UnreadCount)
	assert.False(t, inbox[1].Online)
	assert.Nil(t, inbox[1].LastMessage)

	resp = e.do(t, http.MethodGet, "/api/conversations", 9, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]models.ConversationSummary](t, resp))
}

func TestSendTyping(t *testing.T) {
	e := newTestEnv(t, "match_realtime=off")
	conv := e.match(t, 1, 2)
	recipient := e.attach(t, 2)
	typingPath := fmt.Sprintf("/api/conversations/%d/typing", conv.ID)

	resp := e.do(t, http.MethodPost, typingPath, 1, fiber.Map{"is_typing": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	f := nextFrame(t, recipient)
	assert.Equal(t, string(notifications.EventTyping), f.Type)
	var payload notifications.TypingPayload
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.True(t, payload.IsTyping)

	resp = e.do(t, http.MethodPost, typingPath, 3, fiber.Map{"is_typing": true})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "typing into a foreign conversation is rejected")
	assertNoFrame(t, recipient)
}

func TestSendTyping_FlagOff(t *testing.T) {
	e := newTestEnv(t, "match_realtime=off,typing_events=off")
	conv := e.match(t, 1, 2)
	recipient := e.attach(t, 2)

	resp := e.do(t, http.MethodPost, fmt.Sprintf("/api/conversations/%d/typing", conv.ID), 1, fiber.Map{"is_typing": true})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assertNoFrame(t, recipient)
}

func TestGetFeatureFlags(t *testing.T) {
	e := newTestEnv(t, "typing_events=off")

	resp := e.do(t, http.MethodGet, "/api/feature-flags", 1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Raw       map[string]string `json:"raw"`
		Evaluated map[string]bool   `json:"evaluated"`
	}](t, resp)
	assert.Equal(t, "off", body.Raw["typing_events"])
	assert.False(t, body.Evaluated["typing_events"])
	assert.True(t, body.Evaluated["match_realtime"])
}
