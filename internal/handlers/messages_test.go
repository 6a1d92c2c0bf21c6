package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-gateway/internal/directory"
	"chat-gateway/internal/dispatch"
	"chat-gateway/internal/mocks"
	"chat-gateway/internal/models"
	"chat-gateway/internal/session"
	"chat-gateway/internal/ws"
)

const testCloseCode = 4401

var _ session.Broker = (*mocks.BrokerMock)(nil)

type testEnv struct {
	handler *MessagesHandler
	gateway *session.Gateway
	hub     *ws.Hub
	queue   *dispatch.Queue
	dir     *mocks.DirectoryMock
	broker  *mocks.BrokerMock
	issuer  *mocks.PassIssuerMock
	router  *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := new(mocks.DirectoryMock)
	broker := new(mocks.BrokerMock)
	issuer := new(mocks.PassIssuerMock)
	hub := ws.NewHub(zerolog.Nop())
	queue := dispatch.NewQueue(4)
	gateway := session.NewGateway("proc-1", hub, dir, broker, queue, session.Options{}, zerolog.Nop())

	handler := NewMessagesHandler(gateway, hub, dir, issuer, 30*time.Second, testCloseCode, zerolog.Nop())

	router := gin.New()
	router.POST("/messages/get-connection-pass", func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	}, handler.GetConnectionPass)
	router.GET("/messages/", handler.Connect)

	return &testEnv{
		handler: handler,
		gateway: gateway,
		hub:     hub,
		queue:   queue,
		dir:     dir,
		broker:  broker,
		issuer:  issuer,
		router:  router,
	}
}

func (e *testEnv) dial(t *testing.T, server *httptest.Server, pass string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/messages/"
	if pass != "" {
		url += "?connection_pass=" + pass
	}
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return client
}

func TestGetConnectionPassSuccess(t *testing.T) {
	env := newTestEnv(t)

	env.issuer.On("IssuePass").Return("abc123pass", nil).Once()
	env.dir.On("StorePass", mock.Anything, "abc123pass", 1, 30*time.Second).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages/get-connection-pass", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.ConnectionPassResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "abc123pass", resp.ConnectionPass)

	env.issuer.AssertExpectations(t)
	env.dir.AssertExpectations(t)
}

func TestGetConnectionPassStoreFailure(t *testing.T) {
	env := newTestEnv(t)

	env.issuer.On("IssuePass").Return("abc123pass", nil).Once()
	env.dir.On("StorePass", mock.Anything, "abc123pass", 1, 30*time.Second).Return(assert.AnError).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages/get-connection-pass", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestConnectWithUnredeemablePassClosesWithCustomCode(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	env.dir.On("RedeemPass", mock.Anything, "expired").Return(0, directory.ErrPassNotFound).Once()

	client := env.dial(t, server, "expired")
	defer client.Close()

	_, _, err := client.ReadMessage()
	require.True(t, websocket.IsCloseError(err, testCloseCode), "expected close code %d, got %v", testCloseCode, err)

	env.dir.AssertExpectations(t)
}

func TestConnectWithoutPassClosesWithCustomCode(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	client := env.dial(t, server, "")
	defer client.Close()

	_, _, err := client.ReadMessage()
	require.True(t, websocket.IsCloseError(err, testCloseCode))
}

func TestConnectSendReceiveDisconnectFlow(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	env.dir.On("RedeemPass", mock.Anything, "valid-pass").Return(7, nil).Once()
	env.dir.On("AddShard", mock.Anything, 7, "proc-1").Return(nil).Once()

	removed := make(chan struct{})
	env.dir.On("RemoveShard", mock.Anything, 7, "proc-1").Return(nil).Once().
		Run(func(mock.Arguments) { close(removed) })

	published := make(chan models.Message, 1)
	env.broker.On("Publish", mock.Anything, mock.Anything).Return(nil).Once().
		Run(func(args mock.Arguments) { published <- args.Get(1).(models.Message) })

	client := env.dial(t, server, "valid-pass")

	err := client.WriteJSON(map[string]any{
		"client_message_id": "c1",
		"chat_id":           "room1",
		"recipient_id":      9,
		"body":              "hi",
	})
	require.NoError(t, err)

	select {
	case msg := <-published:
		require.Equal(t, 7, msg.SenderID, "sender id comes from the session, not the frame")
		require.Equal(t, 9, msg.RecipientID)
		require.Equal(t, models.StatusSent, msg.Status)
		require.Equal(t, "hi", msg.Body)
	case <-time.After(time.Second):
		t.Fatal("message was not published to the broker")
	}

	require.NoError(t, client.Close())

	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("disconnect did not remove the directory membership")
	}

	env.dir.AssertExpectations(t)
	env.broker.AssertExpectations(t)
}

func TestMalformedFrameYieldsErrorFrameAndKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	env.dir.On("RedeemPass", mock.Anything, "valid-pass").Return(7, nil).Once()
	env.dir.On("AddShard", mock.Anything, 7, "proc-1").Return(nil).Once()
	env.dir.On("RemoveShard", mock.Anything, 7, "proc-1").Return(nil).Maybe()

	published := make(chan struct{})
	env.broker.On("Publish", mock.Anything, mock.Anything).Return(nil).Once().
		Run(func(mock.Arguments) { close(published) })

	client := env.dial(t, server, "valid-pass")
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{not json")))

	var errFrame models.ErrorFrame
	require.NoError(t, client.ReadJSON(&errFrame))
	require.Equal(t, "Data integrity error.", errFrame.Title)

	// The connection survived the malformed frame.
	err := client.WriteJSON(map[string]any{
		"client_message_id": "c2",
		"chat_id":           "room1",
		"recipient_id":      9,
		"body":              "still here",
	})
	require.NoError(t, err)

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("valid frame after malformed one was not published")
	}
}

func TestSchemaMismatchYieldsErrorFrame(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	env.dir.On("RedeemPass", mock.Anything, "valid-pass").Return(7, nil).Once()
	env.dir.On("AddShard", mock.Anything, 7, "proc-1").Return(nil).Once()
	env.dir.On("RemoveShard", mock.Anything, 7, "proc-1").Return(nil).Maybe()

	client := env.dial(t, server, "valid-pass")
	defer client.Close()

	// Valid JSON, missing required fields.
	require.NoError(t, client.WriteJSON(map[string]any{"body": "hi"}))

	var errFrame models.ErrorFrame
	require.NoError(t, client.ReadJSON(&errFrame))
	require.Equal(t, "Data consistency error.", errFrame.Title)
}

func TestDeliveredBrokerMessageReachesLocalSockets(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	env.dir.On("RedeemPass", mock.Anything, "valid-pass").Return(7, nil).Once()
	env.dir.On("AddShard", mock.Anything, 7, "proc-1").Return(nil).Once()
	env.dir.On("RemoveShard", mock.Anything, 7, "proc-1").Return(nil).Maybe()

	client := env.dial(t, server, "valid-pass")
	defer client.Close()

	require.Eventually(t, func() bool { return env.hub.Connections(7) == 1 },
		time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.gateway.RunDispatcher(ctx)

	require.NoError(t, env.queue.TryPut(models.Message{
		ClientMessageID: "c9",
		RecipientID:     7,
		Body:            "incoming",
		Status:          models.StatusSent,
	}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	var msg models.Message
	require.NoError(t, client.ReadJSON(&msg))
	require.Equal(t, "c9", msg.ClientMessageID)
	require.Equal(t, "incoming", msg.Body)
}
