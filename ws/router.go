package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/policy"
	"github.com/tcriess/lightspeed-rooms/presence"
	"github.com/tcriess/lightspeed-rooms/room"
	"github.com/tcriess/lightspeed-rooms/session"
	"github.com/tcriess/lightspeed-rooms/types"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the router's view of one connection.
type Session struct {
	conn session.Conn

	mu     sync.Mutex
	state  State
	userId string
	token  string // presented at handshake or via authenticate_session
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) UserId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userId
}

func (s *Session) Conn() session.Conn {
	return s.conn
}

func (s *Session) sessionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

type handlerFunc func(ctx context.Context, s *Session, userId string, data map[string]interface{}) error

// Router runs the per-connection state machine and dispatches the inbound events. It owns no state of its
// own besides the sessions, the shared state lives in the registry and the tracker.
type Router struct {
	cfg       *config.Config
	persister persistence.Persister
	verifier  auth.Verifier
	registry  *session.Registry
	tracker   *room.Tracker
	presence  *presence.Publisher
	policy    *policy.DeletePolicy
	logger    hclog.Logger

	handlers map[string]handlerFunc
}

func NewRouter(cfg *config.Config, persister persistence.Persister, verifier auth.Verifier, registry *session.Registry,
	tracker *room.Tracker, publisher *presence.Publisher, deletePolicy *policy.DeletePolicy) *Router {
	r := &Router{
		cfg:       cfg,
		persister: persister,
		verifier:  verifier,
		registry:  registry,
		tracker:   tracker,
		presence:  publisher,
		policy:    deletePolicy,
		logger:    globals.AppLogger.Named("router"),
	}
	r.handlers = map[string]handlerFunc{
		types.EventJoinRoom:           r.joinRoom,
		types.EventLeaveRoom:          r.leaveRoom,
		types.EventSendMessage:        r.sendMessage,
		types.EventTyping:             r.typing,
		types.EventGetMessages:        r.getMessages,
		types.EventDeleteMessage:      r.deleteMessage,
		types.EventJoinPrivateChat:    r.joinPrivateChat,
		types.EventSendPrivateMessage: r.sendPrivateMessage,
		types.EventCheckUserStatus:    r.checkUserStatus,
	}
	return r
}

// Open starts a session for a freshly connected transport. A token presented at handshake is verified
// right away, if it is rejected the connection is closed.
func (r *Router) Open(ctx context.Context, conn session.Conn, token string) *Session {
	s := &Session{conn: conn, token: token}
	r.reply(s, types.EventConnected, types.ConnectedPayload{Message: "connected", Sid: conn.Id()})
	if token != "" {
		if _, err := r.authenticate(ctx, s, token); err != nil {
			r.logger.Info("handshake token rejected", "conn", conn.Id(), "error", err)
			r.sendError(s, err)
			r.terminate(s)
		}
	}
	return s
}

// Handle processes one raw inbound message. Errors never escape: they are reported to the originating
// connection as an error event.
func (r *Router) Handle(ctx context.Context, s *Session, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in event handler", "conn", s.conn.Id(), "panic", rec)
			r.sendError(s, types.NewError(types.KindInternal, "internal error"))
		}
	}()
	if s.State() == StateClosed {
		return
	}
	message := types.WebsocketMessage{}
	if err := json.Unmarshal(raw, &message); err != nil {
		r.sendError(s, types.NewError(types.KindValidation, "could not parse message"))
		return
	}
	data := make(map[string]interface{})
	if len(message.Data) > 0 && string(message.Data) != "null" {
		if err := json.Unmarshal(message.Data, &data); err != nil {
			r.sendError(s, types.NewError(types.KindValidation, "data of %s must be an object", message.Event))
			return
		}
	}

	if message.Event == types.EventAuthenticateSession {
		r.authenticateSession(ctx, s, message.Token, data)
		return
	}
	handler, ok := r.handlers[message.Event]
	if !ok {
		r.sendError(s, types.NewError(types.KindValidation, "unknown event %q", message.Event))
		return
	}

	wasAuthenticated := s.State() == StateAuthenticated
	token := message.Token
	if token == "" {
		token = s.sessionToken()
	}
	userId, err := r.authenticate(ctx, s, token)
	if err != nil {
		r.sendError(s, err)
		if !wasAuthenticated {
			r.terminate(s)
		}
		return
	}

	err = handler(ctx, s, userId, data)
	if err != nil {
		if types.KindOf(err) == types.KindPersistence {
			r.logger.Error("event failed", "event", message.Event, "user", userId, "error", err)
		} else {
			r.logger.Debug("event rejected", "event", message.Event, "user", userId, "error", err)
		}
		r.sendError(s, err)
	}
}

// Close tears down the session after the transport went away. If it was the user's last connection, the
// user leaves all rooms and goes offline.
func (r *Router) Close(s *Session) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	userId, wentOffline, ok := r.registry.Unregister(s.conn.Id())
	if !ok || !wentOffline {
		return
	}
	for key, count := range r.tracker.LeaveAll(userId) {
		r.toRoom(key, userId, types.EventUserLeft, types.RoomUserPayload{RoomKey: key, UserId: userId, MemberCount: count})
	}
	r.presence.Offline(userId)
	r.logger.Debug("user went offline", "user", userId)
}

// authenticate verifies token for the session. The first success moves the session to Authenticated and
// registers it, later verifications must name the same user.
func (r *Router) authenticate(ctx context.Context, s *Session, token string) (string, error) {
	userId, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return "", &types.Error{Kind: types.KindAuth, Message: err.Error(), Err: err}
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return "", types.NewError(types.KindState, "connection is closed")
	case StateAuthenticated:
		current := s.userId
		s.mu.Unlock()
		if current != userId {
			verr := &auth.VerificationError{Reason: auth.Malformed, Err: errors.New("token subject does not match the session user")}
			return "", &types.Error{Kind: types.KindAuth, Message: verr.Error(), Err: verr}
		}
		return userId, nil
	}
	s.state = StateAuthenticated
	s.userId = userId
	if s.token == "" {
		s.token = token
	}
	s.mu.Unlock()

	r.ensureUser(userId)
	if r.registry.Register(s.conn, userId) {
		r.presence.Online(userId)
	}
	r.logger.Debug("session authenticated", "conn", s.conn.Id(), "user", userId)
	return userId, nil
}

// ensureUser creates a bare user record for a subject that authenticated for the first time.
func (r *Router) ensureUser(userId string) {
	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.persister.GetUser(ctx, userId)
	if err == nil {
		return
	}
	if !errors.Is(err, types.ErrNotFound) {
		r.logger.Warn("could not look up user", "user", userId, "error", err)
		return
	}
	err = r.persister.StoreUser(ctx, &types.User{Id: userId, DisplayName: userId, Status: types.StatusOffline})
	if err != nil {
		r.logger.Error("could not store user", "user", userId, "error", err)
	}
}

func (r *Router) authenticateSession(ctx context.Context, s *Session, envelopeToken string, data map[string]interface{}) {
	payload := types.AuthenticatePayload{}
	_ = mapstructure.WeakDecode(data, &payload)
	token := payload.Token
	if token == "" {
		token = envelopeToken
	}
	if token == "" {
		token = s.sessionToken()
	}
	wasAuthenticated := s.State() == StateAuthenticated
	userId, err := r.authenticate(ctx, s, token)
	if err != nil {
		r.sendError(s, err)
		if !wasAuthenticated {
			r.terminate(s)
		}
		return
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	r.reply(s, types.EventUserStatusUpdate, types.UserStatusEventPayload{UserId: userId, Status: types.StatusOnline, Online: true})
}

// terminate ends a session whose authentication failed. The session is closed right away so that frames
// still queued for the reader are ignored; the reader then calls Close once the transport is gone.
func (r *Router) terminate(s *Session) {
	s.mu.Lock()
	if s.state == StateUnauthenticated {
		s.state = StateClosed
	}
	s.mu.Unlock()
	s.conn.Close()
}

// opContext bounds a persistence call. It is detached from the connection so that a disconnect does not
// abort a write issued for a request that was already accepted.
func (r *Router) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.PersistenceConfig.OpTimeout)
}

func decode(data map[string]interface{}, payload interface{}) error {
	err := mapstructure.WeakDecode(data, payload)
	if err != nil {
		return &types.Error{Kind: types.KindValidation, Message: fmt.Sprintf("invalid payload: %s", err), Err: err}
	}
	return nil
}
