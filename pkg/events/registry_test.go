package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/linecore/pkg/models"
)

// mockBotDirectory implements BotDirectory for tests.
type mockBotDirectory struct {
	bots map[uuid.UUID]*models.Bot
	err  error
}

func (m *mockBotDirectory) GetBot(_ context.Context, botID uuid.UUID) (*models.Bot, error) {
	if m.err != nil {
		return nil, m.err
	}
	bot, ok := m.bots[botID]
	if !ok {
		return nil, errors.New("bot not found")
	}
	return bot, nil
}

func (m *mockBotDirectory) OwnsBot(_ context.Context, botID uuid.UUID, ownerID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	bot, ok := m.bots[botID]
	return ok && bot.OwnerID == ownerID, nil
}

func (m *mockBotDirectory) ListBotsByOwner(_ context.Context, ownerID string) ([]*models.Bot, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Bot
	for _, b := range m.bots {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func testBot(owner string) *models.Bot {
	return &models.Bot{
		ID:            uuid.New(),
		OwnerID:       owner,
		Name:          "support-bot",
		ChannelToken:  "token",
		ChannelSecret: "secret",
	}
}

// setupTestRegistry serves bot sockets on /bot and dashboard sockets on
// /dashboard, both authenticated as "owner-1".
func setupTestRegistry(t *testing.T, dir *mockBotDirectory, bot *models.Bot) (*Registry, *httptest.Server) {
	t.Helper()

	registry := NewRegistry(dir, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		switch r.URL.Path {
		case "/dashboard":
			registry.HandleDashboardConnection(r.Context(), conn, "owner-1")
		default:
			registry.HandleBotConnection(r.Context(), conn, bot, "owner-1")
		}
	}))

	t.Cleanup(func() { server.Close() })
	return registry, server
}

func connectWS(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + path
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeControl(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// dataMap extracts the envelope data as a generic map.
func dataMap(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	require.True(t, ok, "envelope data is not an object: %#v", env.Data)
	return m
}

// waitForSubscribers polls until the (bot, channel) pair has n subscribers.
func waitForSubscribers(t *testing.T, r *Registry, botID uuid.UUID, channel string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.subscriberCount(botID, channel) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_BotConnectionEstablished(t *testing.T) {
	bot := testBot("owner-1")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot}}
	registry, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/bot")

	env := readEnvelope(t, conn)
	assert.Equal(t, FrameConnected, env.Type)
	assert.Equal(t, bot.ID.String(), env.BotID)
	assert.NotEmpty(t, dataMap(t, env)["connection_id"])
	assert.NotEmpty(t, env.Timestamp)

	// Bot sockets are subscribed to the chat stream up front.
	waitForSubscribers(t, registry, bot.ID, ChannelChatMessage, 1)
	waitForSubscribers(t, registry, bot.ID, ChannelNewUserMessage, 1)
	assert.Equal(t, 0, registry.subscriberCount(bot.ID, ChannelAnalytics))
}

func TestRegistry_PingPongEchoesTimestamp(t *testing.T) {
	bot := testBot("owner-1")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot}}
	_, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/bot")
	readEnvelope(t, conn) // connected

	writeControl(t, conn, ClientMessage{Type: ControlPing, Timestamp: "2026-03-01T10:00:00Z"})

	env := readEnvelope(t, conn)
	assert.Equal(t, FramePong, env.Type)
	assert.Equal(t, "2026-03-01T10:00:00Z", dataMap(t, env)["timestamp"])
}

func TestRegistry_SubscribeAnalytics(t *testing.T) {
	bot := testBot("owner-1")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot}}
	registry, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/bot")
	readEnvelope(t, conn) // connected

	writeControl(t, conn, ClientMessage{Type: ControlSubscribeAnalytics})

	env := readEnvelope(t, conn)
	assert.Equal(t, FrameSubscribed, env.Type)
	assert.Equal(t, bot.ID.String(), env.BotID)
	assert.Equal(t, ChannelAnalytics, dataMap(t, env)["channel"])

	waitForSubscribers(t, registry, bot.ID, ChannelAnalytics, 1)
}

func TestRegistry_UnknownControlFrameKeepsSocketOpen(t *testing.T) {
	bot := testBot("owner-1")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot}}
	_, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/bot")
	readEnvelope(t, conn) // connected

	writeControl(t, conn, ClientMessage{Type: "reboot_everything"})

	env := readEnvelope(t, conn)
	assert.Equal(t, FrameError, env.Type)
	assert.Contains(t, dataMap(t, env)["message"], "reboot_everything")

	// The socket survives: a ping still gets answered.
	writeControl(t, conn, ClientMessage{Type: ControlPing})
	assert.Equal(t, FramePong, readEnvelope(t, conn).Type)
}

func TestRegistry_BroadcastReachesAllSubscribers(t *testing.T) {
	bot := testBot("owner-1")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot}}
	registry, server := setupTestRegistry(t, dir, bot)

	conn1 := connectWS(t, server, "/bot")
	conn2 := connectWS(t, server, "/bot")
	readEnvelope(t, conn1)
	readEnvelope(t, conn2)

	waitForSubscribers(t, registry, bot.ID, ChannelChatMessage, 2)

	registry.Broadcast(bot.ID, ChannelChatMessage, &Envelope{
		Type:       FrameChatMessage,
		BotID:      bot.ID.String(),
		LineUserID: "U123",
		Data:       map[string]string{"text": "hello"},
		Timestamp:  nowISO8601(),
	})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		env := readEnvelope(t, conn)
		assert.Equal(t, FrameChatMessage, env.Type)
		assert.Equal(t, "U123", env.LineUserID)
		assert.Equal(t, "hello", dataMap(t, env)["text"])
	}
}

func TestRegistry_BroadcastDoesNotCrossBots(t *testing.T) {
	bot := testBot("owner-1")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot}}
	registry, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/bot")
	readEnvelope(t, conn)
	waitForSubscribers(t, registry, bot.ID, ChannelChatMessage, 1)

	// A broadcast for some other bot must not reach this socket.
	registry.Broadcast(uuid.New(), ChannelChatMessage, &Envelope{
		Type:      FrameChatMessage,
		Data:      map[string]string{"text": "stray"},
		Timestamp: nowISO8601(),
	})
	registry.Broadcast(bot.ID, ChannelChatMessage, &Envelope{
		Type:      FrameChatMessage,
		BotID:     bot.ID.String(),
		Data:      map[string]string{"text": "mine"},
		Timestamp: nowISO8601(),
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, "mine", dataMap(t, env)["text"])
}

func TestRegistry_GetInitialDataBotSocket(t *testing.T) {
	bot := testBot("owner-1")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot}}
	_, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/bot")
	readEnvelope(t, conn) // connected

	writeControl(t, conn, ClientMessage{Type: ControlGetInitialData})

	env := readEnvelope(t, conn)
	require.Equal(t, FrameInitialData, env.Type)
	botData, ok := dataMap(t, env)["bot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, bot.ID.String(), botData["id"])
	assert.Equal(t, "support-bot", botData["name"])
	assert.Equal(t, true, botData["is_configured"])
}

func TestRegistry_GetInitialDataDashboardSocket(t *testing.T) {
	bot := testBot("owner-1")
	other := testBot("owner-2")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot, other.ID: other}}
	registry, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/dashboard")
	readEnvelope(t, conn) // connected

	// Dashboard sockets watch new conversations for each owned bot.
	waitForSubscribers(t, registry, bot.ID, ChannelNewUserMessage, 1)
	assert.Equal(t, 0, registry.subscriberCount(other.ID, ChannelNewUserMessage))

	writeControl(t, conn, ClientMessage{Type: ControlGetInitialData})

	env := readEnvelope(t, conn)
	require.Equal(t, FrameInitialData, env.Type)
	bots, ok := dataMap(t, env)["bots"].([]any)
	require.True(t, ok)
	require.Len(t, bots, 1)
	summary := bots[0].(map[string]any)
	assert.Equal(t, bot.ID.String(), summary["id"])
}

func TestRegistry_DashboardSubscribeRequiresOwnership(t *testing.T) {
	bot := testBot("owner-1")
	other := testBot("owner-2")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot, other.ID: other}}
	registry, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/dashboard")
	readEnvelope(t, conn) // connected

	// Missing bot_id.
	writeControl(t, conn, ClientMessage{Type: ControlSubscribeActivities})
	assert.Equal(t, FrameError, readEnvelope(t, conn).Type)

	// Somebody else's bot.
	writeControl(t, conn, ClientMessage{Type: ControlSubscribeActivities, BotID: other.ID.String()})
	assert.Equal(t, FrameError, readEnvelope(t, conn).Type)
	assert.Equal(t, 0, registry.subscriberCount(other.ID, ChannelActivities))

	// An owned bot works.
	writeControl(t, conn, ClientMessage{Type: ControlSubscribeActivities, BotID: bot.ID.String()})
	env := readEnvelope(t, conn)
	assert.Equal(t, FrameSubscribed, env.Type)
	assert.Equal(t, bot.ID.String(), env.BotID)
	waitForSubscribers(t, registry, bot.ID, ChannelActivities, 1)
}

func TestRegistry_DisconnectReleasesSubscriptions(t *testing.T) {
	bot := testBot("owner-1")
	dir := &mockBotDirectory{bots: map[uuid.UUID]*models.Bot{bot.ID: bot}}
	registry, server := setupTestRegistry(t, dir, bot)

	conn := connectWS(t, server, "/bot")
	readEnvelope(t, conn)
	waitForSubscribers(t, registry, bot.ID, ChannelChatMessage, 1)
	require.Equal(t, 1, registry.ActiveConnections())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	waitForSubscribers(t, registry, bot.ID, ChannelChatMessage, 0)
	require.Eventually(t, func() bool {
		return registry.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
