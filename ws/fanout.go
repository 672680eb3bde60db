package ws

import (
	"errors"

	"github.com/tcriess/lightspeed-rooms/session"
	"github.com/tcriess/lightspeed-rooms/types"
)

func (r *Router) encode(event string, payload interface{}) []byte {
	data, err := types.EncodeEvent(event, payload)
	if err != nil {
		r.logger.Error("could not encode event", "event", event, "error", err)
		return nil
	}
	return data
}

func (r *Router) enqueue(conn session.Conn, data []byte) {
	if !conn.Enqueue(data) {
		r.logger.Warn("could not queue event, dropping connection", "conn", conn.Id())
	}
}

// reply sends an event to the session's connection only.
func (r *Router) reply(s *Session, event string, payload interface{}) {
	if data := r.encode(event, payload); data != nil {
		r.enqueue(s.conn, data)
	}
}

func (r *Router) sendError(s *Session, err error) {
	payload := types.ErrorPayload{Message: err.Error(), Kind: types.KindOf(err)}
	var e *types.Error
	if errors.As(err, &e) {
		payload.Message = e.Message
	}
	r.reply(s, types.EventError, payload)
}

// toRoom sends an event to every connection of every member of the room except the connections of
// excludeUser (empty excludes nobody). It returns the number of connections the event was queued for.
func (r *Router) toRoom(key string, excludeUser string, event string, payload interface{}) int {
	data := r.encode(event, payload)
	if data == nil {
		return 0
	}
	sent := 0
	for _, userId := range r.tracker.Members(key) {
		if userId == excludeUser {
			continue
		}
		for _, conn := range r.registry.Conns(userId) {
			r.enqueue(conn, data)
			sent++
		}
	}
	return sent
}

// toRoomAndCaller sends an event to the whole room, the caller included even if it never joined.
func (r *Router) toRoomAndCaller(s *Session, key string, event string, payload interface{}) {
	r.toRoom(key, "", event, payload)
	if !r.tracker.IsMember(key, s.UserId()) {
		r.reply(s, event, payload)
	}
}
