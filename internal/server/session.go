package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/franckalain/freshness/internal/analysis"
	"github.com/franckalain/freshness/internal/logger"
	"github.com/franckalain/freshness/internal/media"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/report"
	"github.com/franckalain/freshness/internal/selection"
)

const itemsTimeout = 5 * time.Second

// Incoming message types
const (
	msgSelectItem = "select_item"
	msgDrag       = "drag"
	msgImage      = "image"
	msgAnalyze    = "analyze"
	msgReset      = "reset"
	msgGetItems   = "get_items"
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type selectItemData struct {
	Value string `json:"value"`
}

type dragData struct {
	Phase string `json:"phase"`
}

type imageData struct {
	Source    string `json:"source"`
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64, optionally as a data URI
}

// StateView is the "state" message pushed after every change
type StateView struct {
	Phase     analysis.Phase    `json:"phase"`
	Message   string            `json:"message,omitempty"`
	CanSubmit bool              `json:"can_submit"`
	Dragging  bool              `json:"dragging"`
	Selection selection.View    `json:"selection"`
	Report    *report.ViewModel `json:"report,omitempty"`
}

type session struct {
	id      string
	ctx     context.Context
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  *atomic.Bool

	backend Backend
	ctrl    *analysis.Controller
	acq     *media.Acquirer
	log     logger.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf(r.Context(), "WebSocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	ctx := logger.WithSessionID(context.WithoutCancel(r.Context()), id)
	ctrl := analysis.NewController(s.backend,
		analysis.WithTimeout(s.opts.Timeout),
		analysis.WithLogger(s.log))
	sess := &session{
		id:      id,
		ctx:     ctx,
		conn:    conn,
		closed:  atomic.NewBool(false),
		backend: s.backend,
		ctrl:    ctrl,
		log:     s.log,
	}
	sess.acq = media.NewAcquirer(ctrl, s.opts.MaxImageBytes, s.log)
	ctrl.OnChange(sess.pushState)

	s.sessions.Store(id, sess)
	defer func() {
		s.sessions.Delete(id)
		sess.close()
		ctrl.Reset()
		sess.acq.Wait()
		s.log.Infof(ctx, "session closed")
	}()
	// stored first: closeSessions either finds this session or closing is already set
	if s.closing.Load() {
		return
	}

	s.log.Infof(ctx, "session opened")
	sess.pushState(ctrl.Snapshot())
	sess.readLoop()
}

func (sess *session) readLoop() {
	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			if !sess.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Warnf(sess.ctx, "Error reading message: %v", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			sess.sendError("Invalid message format")
			continue
		}
		sess.handleMessage(msg)
	}
}

func (sess *session) handleMessage(msg inbound) {
	switch msg.Type {
	case msgSelectItem:
		sess.handleSelectItem(msg.Data)
	case msgDrag:
		sess.handleDrag(msg.Data)
	case msgImage:
		sess.handleImage(msg.Data)
	case msgAnalyze:
		sess.handleAnalyze()
	case msgReset:
		sess.ctrl.Reset()
	case msgGetItems:
		sess.handleGetItems()
	default:
		sess.sendError("Unknown message type")
	}
}

func (sess *session) handleSelectItem(raw json.RawMessage) {
	var data selectItemData
	if err := decodeData(raw, &data); err != nil {
		sess.sendError("Invalid item selection")
		return
	}
	if err := sess.ctrl.SelectProduce(data.Value); err != nil {
		sess.sendError(err.Error())
	}
}

func (sess *session) handleDrag(raw json.RawMessage) {
	var data dragData
	if err := decodeData(raw, &data); err != nil {
		sess.sendError("Invalid drag event")
		return
	}
	switch data.Phase {
	case "enter":
		sess.acq.DragEnter()
	case "over":
		sess.acq.DragOver()
	case "leave":
		sess.acq.DragLeave()
	default:
		sess.sendError("Unknown drag phase")
		return
	}
	sess.pushState(sess.ctrl.Snapshot())
}

func (sess *session) handleImage(raw json.RawMessage) {
	var data imageData
	if err := decodeData(raw, &data); err != nil {
		sess.sendError("Invalid image data")
		return
	}
	source, err := media.ParseSource(data.Source)
	if err != nil {
		sess.sendError(err.Error())
		return
	}
	if source == media.DragDrop {
		// a drop ends the drag whatever it carries
		sess.acq.DragLeave()
	}

	var files []media.File
	if data.Data != "" {
		bytes, mediaType, err := decodeImage(data.Data)
		if err != nil {
			sess.sendError("Invalid image format")
			sess.dropRejected(source)
			return
		}
		if data.MediaType != "" {
			mediaType = data.MediaType
		}
		files = append(files, media.File{Name: data.Name, MediaType: mediaType, Data: bytes})
	}

	switch source {
	case media.DragDrop:
		_, err = sess.acq.Drop(sess.ctx, files)
	case media.Camera:
		_, err = sess.acq.Capture(sess.ctx, files)
	default:
		_, err = sess.acq.Pick(sess.ctx, files)
	}

	switch {
	case err == nil, errors.Is(err, media.ErrNoFile):
	case errors.Is(err, media.ErrNotImage):
		sess.sendError("Please select an image file")
	case errors.Is(err, media.ErrTooLarge):
		sess.sendError("Image is too large")
	case errors.Is(err, media.ErrEmpty):
		sess.sendError("Image file is empty")
	default:
		sess.log.Warnf(sess.ctx, "Error acquiring image: %v", err)
		sess.sendError("Invalid image data")
	}
	if err != nil {
		sess.dropRejected(source)
	}
}

// dropRejected pushes the cleared drag state when a drop delivered no image
func (sess *session) dropRejected(source media.Source) {
	if source == media.DragDrop {
		sess.pushState(sess.ctrl.Snapshot())
	}
}

func (sess *session) handleAnalyze() {
	_, err := sess.ctrl.Submit(sess.ctx)
	switch {
	case err == nil:
	case errors.Is(err, analysis.ErrInFlight):
		sess.log.Debugf(sess.ctx, "ignoring analyze while loading")
	default:
		sess.sendError(err.Error())
	}
}

func (sess *session) handleGetItems() {
	ctx, cancel := context.WithTimeout(sess.ctx, itemsTimeout)
	defer cancel()

	items, err := sess.backend.Items(ctx)
	if err != nil || len(items) == 0 {
		sess.log.Warnf(ctx, "Falling back to the built-in catalog: %v", err)
		items = catalogItems()
	}
	sess.sendMessage("items", models.ItemsResponse{Items: items})
}

func (sess *session) pushState(snap analysis.Snapshot) {
	view := StateView{
		Phase:     snap.Phase,
		Message:   snap.Message,
		CanSubmit: snap.CanSubmit,
		Dragging:  sess.acq.Dragging(),
		Selection: snap.Selection,
	}
	if snap.Phase == analysis.Succeeded {
		vm := report.Project(snap.Report)
		view.Report = &vm
	}
	sess.sendMessage("state", view)
}

func (sess *session) sendMessage(messageType string, data interface{}) {
	sess.write(map[string]interface{}{
		"type": messageType,
		"data": data,
	})
}

func (sess *session) sendError(message string) {
	sess.write(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

func (sess *session) write(msg interface{}) {
	if sess.closed.Load() {
		return
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteJSON(msg); err != nil {
		sess.log.Warnf(sess.ctx, "Error sending message: %v", err)
	}
}

func (sess *session) close() {
	if !sess.closed.Swap(true) {
		sess.writeMu.Lock()
		defer sess.writeMu.Unlock()
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		sess.conn.Close()
	}
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(raw, v)
}

// decodeImage accepts plain base64 or a data URI and returns the bytes and any declared type
func decodeImage(s string) ([]byte, string, error) {
	var mediaType string
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", errors.New("malformed data URI")
		}
		meta := s[len("data:"):comma]
		mediaType = strings.TrimSuffix(meta, ";base64")
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", err
	}
	return data, mediaType, nil
}
