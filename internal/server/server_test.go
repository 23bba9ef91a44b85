package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/freshness/internal/api"
	"github.com/franckalain/freshness/internal/logger"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/report"
	"github.com/franckalain/freshness/internal/selection"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 2, 0, 0, 0}

type fakeBackend struct {
	report   *models.Report
	err      error
	items    []models.Item
	itemsErr error
}

func (f *fakeBackend) Predict(ctx context.Context, req selection.Request) (*models.Report, error) {
	return f.report, f.err
}

func (f *fakeBackend) Items(ctx context.Context) ([]models.Item, error) {
	return f.items, f.itemsErr
}

type outbound struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type stateMessage struct {
	Phase     string            `json:"phase"`
	Message   string            `json:"message"`
	CanSubmit bool              `json:"can_submit"`
	Dragging  bool              `json:"dragging"`
	Selection selection.View    `json:"selection"`
	Report    *report.ViewModel `json:"report"`
}

func startShell(t *testing.T, backend Backend) (*Server, *httptest.Server) {
	t.Helper()
	s := New(backend, Options{Timeout: time.Second}, logger.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": msgType, "data": data}))
}

// next reads messages until one satisfies match
func next(t *testing.T, conn *websocket.Conn, match func(outbound) bool) outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg outbound
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func nextState(t *testing.T, conn *websocket.Conn, match func(stateMessage) bool) stateMessage {
	t.Helper()
	var st stateMessage
	next(t, conn, func(msg outbound) bool {
		if msg.Type != "state" {
			return false
		}
		require.NoError(t, json.Unmarshal(msg.Data, &st))
		return match(st)
	})
	return st
}

func nextError(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	return next(t, conn, func(msg outbound) bool { return msg.Type == "error" }).Message
}

func sendImage(t *testing.T, conn *websocket.Conn, source string) {
	t.Helper()
	send(t, conn, msgImage, map[string]string{
		"source": source,
		"name":   "apple.png",
		"data":   base64.StdEncoding.EncodeToString(pngBytes),
	})
}

func TestHealthAndCatalog(t *testing.T) {
	_, ts := startShell(t, &fakeBackend{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)

	resp2, err := http.Get(ts.URL + "/api/catalog")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var items models.ItemsResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&items))
	require.Len(t, items.Items, 8)
	assert.Equal(t, "apple", items.Items[0].Value)
	assert.Equal(t, "Okra", items.Items[7].Label)
}

func TestSessionAnalyzes(t *testing.T) {
	backend := &fakeBackend{report: &models.Report{
		Fruit:            "apple",
		InitialFreshness: 82,
		Decay:            models.Decay{IdealFinal: 70, IdealDaysLeft: 5, RoomFinal: 40, RoomDaysLeft: 2, HumidFinal: 20, HumidDaysLeft: 1},
		Status:           "FRESH",
		StatusColor:      "#22c55e",
	}}
	s, ts := startShell(t, backend)
	conn := dial(t, ts)

	initial := nextState(t, conn, func(stateMessage) bool { return true })
	assert.Equal(t, "idle", initial.Phase)
	assert.False(t, initial.CanSubmit)
	assert.Equal(t, 1, s.Sessions())

	send(t, conn, msgSelectItem, map[string]string{"value": "apple"})
	nextState(t, conn, func(st stateMessage) bool { return st.Selection.Produce == "apple" })

	sendImage(t, conn, "picker")
	st := nextState(t, conn, func(st stateMessage) bool { return st.Selection.Preview != "" })
	assert.True(t, st.CanSubmit)
	assert.Equal(t, "picker", st.Selection.Source)
	assert.Equal(t, "image/png", st.Selection.MediaType)

	send(t, conn, msgAnalyze, nil)
	done := nextState(t, conn, func(st stateMessage) bool { return st.Phase == "succeeded" })
	require.NotNil(t, done.Report)
	assert.Equal(t, report.Fresh, done.Report.Status.Category)
	assert.Equal(t, 82, done.Report.Initial.Rounded)
	assert.Equal(t, "70%", done.Report.Cards[0].Value)

	send(t, conn, msgReset, nil)
	reset := nextState(t, conn, func(st stateMessage) bool { return st.Phase == "idle" })
	assert.False(t, reset.Selection.HasImage)
	assert.Empty(t, reset.Selection.Produce)
	assert.Nil(t, reset.Report)
}

func TestSessionSurfacesFailure(t *testing.T) {
	backend := &fakeBackend{err: &api.ApplicationError{Message: "unsupported produce"}}
	_, ts := startShell(t, backend)
	conn := dial(t, ts)

	send(t, conn, msgSelectItem, map[string]string{"value": "okra"})
	sendImage(t, conn, "camera")
	nextState(t, conn, func(st stateMessage) bool { return st.CanSubmit })

	send(t, conn, msgAnalyze, nil)
	st := nextState(t, conn, func(st stateMessage) bool { return st.Phase == "failed" })
	assert.Equal(t, "unsupported produce", st.Message)
	assert.Nil(t, st.Report)

	// a new image clears the error
	sendImage(t, conn, "drop")
	st = nextState(t, conn, func(st stateMessage) bool { return st.Selection.Source == "drop" })
	assert.Equal(t, "idle", st.Phase)
	assert.Empty(t, st.Message)
}

func TestSessionValidationError(t *testing.T) {
	_, ts := startShell(t, &fakeBackend{})
	conn := dial(t, ts)

	send(t, conn, msgAnalyze, nil)
	assert.Equal(t, "both an image and a produce type are required", nextError(t, conn))
}

func TestSessionRejectsBadInput(t *testing.T) {
	_, ts := startShell(t, &fakeBackend{})
	conn := dial(t, ts)

	send(t, conn, "scan", nil)
	assert.Equal(t, "Unknown message type", nextError(t, conn))

	send(t, conn, msgSelectItem, map[string]string{"value": "durian"})
	assert.Contains(t, nextError(t, conn), "unsupported produce type")

	send(t, conn, msgImage, map[string]string{"source": "picker", "data": "!!not-base64!!"})
	assert.Equal(t, "Invalid image format", nextError(t, conn))

	send(t, conn, msgImage, map[string]string{
		"source": "picker",
		"data":   base64.StdEncoding.EncodeToString([]byte("plain text, not an image")),
	})
	assert.Equal(t, "Please select an image file", nextError(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "Invalid message format", nextError(t, conn))
}

func TestSessionDragState(t *testing.T) {
	_, ts := startShell(t, &fakeBackend{})
	conn := dial(t, ts)

	send(t, conn, msgDrag, map[string]string{"phase": "enter"})
	nextState(t, conn, func(st stateMessage) bool { return st.Dragging })

	send(t, conn, msgDrag, map[string]string{"phase": "leave"})
	nextState(t, conn, func(st stateMessage) bool { return !st.Dragging })

	send(t, conn, msgDrag, map[string]string{"phase": "over"})
	nextState(t, conn, func(st stateMessage) bool { return st.Dragging })

	// a drop without files ends the drag and selects nothing
	send(t, conn, msgImage, map[string]string{"source": "drop"})
	st := nextState(t, conn, func(st stateMessage) bool { return !st.Dragging })
	assert.False(t, st.Selection.HasImage)
}

func TestSessionRejectedDropEndsDrag(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"undecodable payload", "!!bad!!", "Invalid image format"},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("plain text, not an image")), "Please select an image file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := startShell(t, &fakeBackend{})
			conn := dial(t, ts)

			send(t, conn, msgDrag, map[string]string{"phase": "enter"})
			nextState(t, conn, func(st stateMessage) bool { return st.Dragging })

			send(t, conn, msgImage, map[string]string{"source": "drop", "data": tt.data})
			assert.Equal(t, tt.wantErr, nextError(t, conn))
			st := nextState(t, conn, func(stateMessage) bool { return true })
			assert.False(t, st.Dragging)
			assert.False(t, st.Selection.HasImage)
		})
	}
}

func TestSessionItems(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		want    int
	}{
		{"from service", &fakeBackend{items: []models.Item{{Value: "apple", Label: "Apple"}}}, 1},
		{"service down", &fakeBackend{itemsErr: errors.New("service down")}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := startShell(t, tt.backend)
			conn := dial(t, ts)

			send(t, conn, msgGetItems, nil)
			msg := next(t, conn, func(msg outbound) bool { return msg.Type == "items" })
			var items models.ItemsResponse
			require.NoError(t, json.Unmarshal(msg.Data, &items))
			assert.Len(t, items.Items, tt.want)
			assert.Equal(t, "apple", items.Items[0].Value)
		})
	}
}

func TestDecodeImage(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	data, mediaType, err := decodeImage("data:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, "image/png", mediaType)

	data, mediaType, err = decodeImage(encoded)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Empty(t, mediaType)

	_, _, err = decodeImage("data:image/png;base64")
	assert.Error(t, err)
}

func waitSessions(t *testing.T, s *Server, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Sessions() == want }, 3*time.Second, 10*time.Millisecond)
}

func TestCloseSessionsDisconnectsClients(t *testing.T) {
	s, ts := startShell(t, &fakeBackend{})
	conn := dial(t, ts)
	nextState(t, conn, func(stateMessage) bool { return true })
	waitSessions(t, s, 1)

	s.closeSessions()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	waitSessions(t, s, 0)
}

func TestSessionRefusedWhileClosing(t *testing.T) {
	s, ts := startShell(t, &fakeBackend{})
	s.closeSessions()

	conn := dial(t, ts)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	waitSessions(t, s, 0)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(&fakeBackend{}, Options{}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
