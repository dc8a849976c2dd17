package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/pkg/suggest"
)

const (
	// readLimit caps a single inbound message.
	readLimit = 1 << 20

	writeTimeout = 10 * time.Second
)

// Inbound message types.
const (
	MsgText        = "text"
	MsgCheck       = "check"
	MsgSuggestions = "suggestions"
	MsgAccept      = "accept"
	MsgAcceptAll   = "accept_all"
	MsgIgnore      = "ignore"
	MsgIgnoreGroup = "ignore_group"
	MsgIgnoreAll   = "ignore_all"
)

// Outbound message types.
const (
	MsgState = "state"
	MsgError = "error"
)

// Inbound is a message from the editor.
type Inbound struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	Changes  []suggest.Change `json:"changes,omitempty"`
	ID       string           `json:"id,omitempty"`
	Index    *int             `json:"index,omitempty"`
}

// Outbound is a message to the editor. State messages embed the session
// [State]; OK reports whether an accept or ignore took effect.
type Outbound struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Reply   string `json:"reply,omitempty"`
	OK      *bool  `json:"ok,omitempty"`
	Error   string `json:"error,omitempty"`
	*State
}

// Handler upgrades requests to websockets and runs one [Session] per
// connection. Query parameters: user, language, render=mirror.
type Handler struct {
	mgr     *Manager
	origins []string
}

// NewHandler returns a Handler backed by mgr. origins lists the host
// patterns allowed to connect cross-origin; nil permits same-origin only.
func NewHandler(mgr *Manager, origins []string) *Handler {
	return &Handler{mgr: mgr, origins: origins}
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		observe.Logger(r.Context()).Debug("live: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	ctx := r.Context()
	q := r.URL.Query()
	sess, err := h.mgr.Start(ctx, StartOptions{
		UserID:   q.Get("user"),
		Language: q.Get("language"),
		Mirror:   q.Get("render") == "mirror",
	})
	if err != nil {
		status := websocket.StatusInternalError
		if errors.Is(err, ErrTooManySessions) {
			status = websocket.StatusTryAgainLater
		}
		_ = conn.Close(status, err.Error())
		return
	}
	defer func() { _ = h.mgr.Stop(context.WithoutCancel(ctx), sess.ID()) }()

	// A session stopped elsewhere, e.g. by Manager.StopAll, ends the
	// connection too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			_ = conn.Close(websocket.StatusGoingAway, "session stopped")
			cancel()
		case <-ctx.Done():
		}
	}()

	c := &client{conn: conn, session: sess.ID()}
	sess.OnUpdate(func(st State) {
		c.send(ctx, Outbound{Type: MsgState, Reply: MsgCheck, State: &st})
	})
	st := sess.State()
	c.send(ctx, Outbound{Type: MsgState, State: &st})

	for {
		var msg Inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					observe.Logger(ctx).Debug("live: read failed", "session_id", sess.ID(), "err", err)
				}
			}
			return
		}
		c.send(ctx, h.dispatch(ctx, sess, msg))
	}
}

// dispatch applies one inbound message and builds the reply.
func (h *Handler) dispatch(ctx context.Context, sess *Session, msg Inbound) Outbound {
	reply := func(ok *bool) Outbound {
		st := sess.State()
		return Outbound{Type: MsgState, Reply: msg.Type, OK: ok, State: &st}
	}
	flag := func(b bool) *bool { return &b }

	switch msg.Type {
	case MsgText:
		sess.SetText(msg.Text)
		return reply(nil)
	case MsgCheck:
		if msg.Text != "" {
			sess.Engine().SetText(msg.Text)
		}
		if err := sess.Check(ctx); err != nil {
			slog.Warn("live: check failed", "session_id", sess.ID(), "err", err)
			return Outbound{Type: MsgError, Reply: msg.Type, Error: err.Error()}
		}
		return reply(nil)
	case MsgSuggestions:
		if msg.Text != "" {
			sess.Engine().SetText(msg.Text)
		}
		sess.Ingest(ctx, msg.Changes)
		return reply(nil)
	case MsgAccept:
		return reply(flag(sess.Accept(ctx, msg.ID, msg.Index)))
	case MsgAcceptAll:
		return reply(flag(sess.AcceptAll(ctx) > 0))
	case MsgIgnore:
		return reply(flag(sess.Ignore(msg.ID, msg.Index)))
	case MsgIgnoreGroup:
		return reply(flag(sess.Engine().IgnoreGroup(msg.ID) > 0))
	case MsgIgnoreAll:
		return reply(flag(sess.Engine().IgnoreAll() > 0))
	default:
		return Outbound{Type: MsgError, Reply: msg.Type, Error: "unknown message type " + msg.Type}
	}
}

// client serializes writes; debounced checks reply from timer goroutines.
type client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	session string
}

func (c *client) send(ctx context.Context, out Outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out.Session = c.session
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.conn, out); err != nil && ctx.Err() == nil {
		slog.Debug("live: write failed", "session_id", c.session, "err", err)
	}
}
