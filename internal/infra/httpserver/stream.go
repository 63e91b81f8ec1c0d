package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	appruns "github.com/bryanwahyu/trustinn/internal/application/runs"
	domain "github.com/bryanwahyu/trustinn/internal/domain/runs"
)

const (
	requestWait = 10 * time.Second
	writeWait   = 10 * time.Second
)

// Server-to-client frame types on /runs/stream.
const (
	frameEvent  = "event"
	frameResult = "result"
	frameError  = "error"
)

// streamFrame is one JSON text frame sent by the server.
type streamFrame struct {
	Type    string                    `json:"type"`
	Event   *appruns.Event            `json:"event,omitempty"`
	Result  *appruns.TriggerRunResult `json:"result,omitempty"`
	Message string                    `json:"message,omitempty"`
}

// clientFrame is anything the client sends after the request.
type clientFrame struct {
	Type string `json:"type"`
}

type streamHandler struct {
	runs     *appruns.Service
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func newStreamHandler(runs *appruns.Service, log *slog.Logger, origins []string) *streamHandler {
	return &streamHandler{
		runs: runs,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// GET /v1/{tenant}/runs/stream
//
// The first client frame is the run request, the same JSON as POST /runs.
// The server answers with event frames as the tool writes, then one result
// frame, then closes. A {"type":"cancel"} frame or a dropped connection
// kills the tool.
func (h *streamHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	tenant := chi.URLParam(req, "tenant")
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Warn("websocket upgrade", "tenant", tenant, "error", err)
		return
	}
	defer conn.Close()

	var cmd appruns.TriggerRunCommand
	conn.SetReadDeadline(time.Now().Add(requestWait))
	if err := conn.ReadJSON(&cmd); err != nil {
		h.fail(conn, "invalid run request: "+err.Error())
		return
	}
	conn.SetReadDeadline(time.Time{})
	if err := validateCommand(cmd); err != nil {
		h.fail(conn, err.Error())
		return
	}
	cmd.TenantID = tenant

	// The hijacked request never sees shutdown; the service cancels the run
	// on Shutdown and watch cancels it when the client leaves.
	ctx, cancel := context.WithCancel(context.WithoutCancel(req.Context()))
	defer cancel()
	go h.watch(conn, cancel)

	var writeErr error
	sink := appruns.SinkFunc(func(e appruns.Event) {
		if writeErr != nil {
			return
		}
		if writeErr = h.write(conn, streamFrame{Type: frameEvent, Event: &e}); writeErr != nil {
			cancel()
		}
	})

	res, err := h.runs.TriggerRun(ctx, cmd, sink)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) || errors.Is(err, appruns.ErrClosed) {
			h.fail(conn, err.Error())
			return
		}
		h.fail(conn, "run failed: "+err.Error())
		return
	}
	if writeErr != nil {
		h.log.Warn("client went away", "tenant", tenant, "run_id", res.ID, "error", writeErr)
		return
	}
	if err := h.write(conn, streamFrame{Type: frameResult, Result: &res}); err != nil {
		return
	}
	h.close(conn, websocket.CloseNormalClosure, "")
}

// watch reads client frames until the connection fails. It is the only
// reader of conn.
func (h *streamHandler) watch(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f clientFrame
		if json.Unmarshal(data, &f) == nil && f.Type == "cancel" {
			return
		}
	}
}

func (h *streamHandler) write(conn *websocket.Conn, f streamFrame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (h *streamHandler) fail(conn *websocket.Conn, msg string) {
	if err := h.write(conn, streamFrame{Type: frameError, Message: msg}); err != nil {
		return
	}
	h.close(conn, websocket.ClosePolicyViolation, "")
}

func (h *streamHandler) close(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
