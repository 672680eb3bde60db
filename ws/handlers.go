package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcriess/lightspeed-rooms/policy"
	"github.com/tcriess/lightspeed-rooms/types"
)

func (r *Router) parseKey(p types.RoomPayload) (types.RoomKey, error) {
	return types.ParseRoomKey(p.Key())
}

// participant rejects private room access by anybody but the two users of the pair.
func participant(key types.RoomKey, userId string) error {
	if key.Private && !key.Includes(userId) {
		return types.NewError(types.KindAuth, "not a participant of %s", key.Key)
	}
	return nil
}

// lookupError tells an absent record apart from a failing store.
func lookupError(err error, what string) error {
	if errors.Is(err, types.ErrNotFound) {
		return &types.Error{Kind: types.KindNotFound, Message: what + " not found", Err: err}
	}
	return types.WrapError(err, "could not load %s", what)
}

func (r *Router) getRoom(ctx context.Context, roomId int64) (*types.Room, error) {
	room, err := r.persister.GetRoom(ctx, roomId)
	if err != nil {
		return nil, lookupError(err, fmt.Sprintf("room %d", roomId))
	}
	return room, nil
}

// lookupUser returns the user for message enrichment, nil if it cannot be loaded.
func (r *Router) lookupUser(ctx context.Context, userId string, cache map[string]*types.User) *types.User {
	if u, ok := cache[userId]; ok {
		return u
	}
	u, err := r.persister.GetUser(ctx, userId)
	if err != nil {
		r.logger.Warn("could not load user for enrichment", "user", userId, "error", err)
		u = nil
	}
	if cache != nil {
		cache[userId] = u
	}
	return u
}

func (r *Router) joinRoom(_ context.Context, s *Session, userId string, data map[string]interface{}) error {
	p := types.RoomPayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	key, err := r.parseKey(p)
	if err != nil {
		return err
	}
	roomName := ""
	if key.Private {
		if err := participant(key, userId); err != nil {
			return err
		}
		if err := r.requireUser(key.Other(userId)); err != nil {
			return err
		}
	} else {
		ctx, cancel := r.opContext()
		room, err := r.getRoom(ctx, key.RoomId)
		cancel()
		if err != nil {
			return err
		}
		roomName = room.Name
	}
	count, added := r.tracker.Join(key.Key, userId)
	r.reply(s, types.EventJoinedRoom, types.RoomMembershipPayload{RoomKey: key.Key, RoomName: roomName, MemberCount: count})
	if added {
		r.toRoom(key.Key, userId, types.EventUserJoined, types.RoomUserPayload{RoomKey: key.Key, UserId: userId, MemberCount: count})
	}
	return nil
}

func (r *Router) leaveRoom(_ context.Context, s *Session, userId string, data map[string]interface{}) error {
	p := types.RoomPayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	key, err := r.parseKey(p)
	if err != nil {
		return err
	}
	count, removed := r.tracker.Leave(key.Key, userId)
	r.reply(s, types.EventLeftRoom, types.RoomMembershipPayload{RoomKey: key.Key, MemberCount: count})
	if removed {
		r.toRoom(key.Key, userId, types.EventUserLeft, types.RoomUserPayload{RoomKey: key.Key, UserId: userId, MemberCount: count})
	}
	return nil
}

func (r *Router) sendMessage(_ context.Context, s *Session, userId string, data map[string]interface{}) error {
	p := types.SendMessagePayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	key, err := r.parseKey(p.RoomPayload)
	if err != nil {
		return err
	}
	content, err := types.NormalizeContent(p.Content, r.cfg.ChatConfig.MaxContentLength)
	if err != nil {
		return err
	}
	if key.Private {
		if err := participant(key, userId); err != nil {
			return err
		}
		return r.storePrivateMessage(s, userId, key.Other(userId), content)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	if _, err := r.getRoom(ctx, key.RoomId); err != nil {
		return err
	}
	message := &types.Message{RoomId: key.RoomId, UserId: userId, Content: content}
	if err := r.persister.CreateMessage(ctx, message); err != nil {
		return types.WrapError(err, "could not store message")
	}
	view := types.NewMessageView(message, r.lookupUser(ctx, userId, nil))
	r.toRoomAndCaller(s, key.Key, types.EventNewMessage, view)
	return nil
}

func (r *Router) typing(_ context.Context, s *Session, userId string, data map[string]interface{}) error {
	p := types.TypingPayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	key, err := r.parseKey(p.RoomPayload)
	if err != nil {
		return err
	}
	if p.IsTyping == nil {
		return types.NewError(types.KindValidation, "is_typing is required")
	}
	isTyping := *p.IsTyping
	event := types.EventUserTyping
	if key.Private {
		if err := participant(key, userId); err != nil {
			return err
		}
		event = types.EventPrivateUserTyping
	}
	r.toRoom(key.Key, userId, event, types.TypingEventPayload{RoomKey: key.Key, UserId: userId, IsTyping: isTyping})
	return nil
}

func (r *Router) getMessages(_ context.Context, s *Session, userId string, data map[string]interface{}) error {
	p := types.GetMessagesPayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	key, err := r.parseKey(p.RoomPayload)
	if err != nil {
		return err
	}
	limit := r.cfg.HistoryConfig.ClampLimit(p.Limit)
	if key.Private {
		if err := participant(key, userId); err != nil {
			return err
		}
		return r.replyPrivateHistory(s, key.Key, limit)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	if _, err := r.getRoom(ctx, key.RoomId); err != nil {
		return err
	}
	messages, err := r.persister.ListMessages(ctx, key.RoomId, limit)
	if err != nil {
		return types.WrapError(err, "could not load messages")
	}
	users := make(map[string]*types.User)
	views := make([]types.MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, types.NewMessageView(m, r.lookupUser(ctx, m.UserId, users)))
	}
	r.reply(s, types.EventMessagesHistory, types.MessagesHistoryPayload{RoomKey: key.Key, Messages: views})
	return nil
}

func (r *Router) replyPrivateHistory(s *Session, roomKey string, limit int) error {
	ctx, cancel := r.opContext()
	defer cancel()
	messages, err := r.persister.ListPrivateMessages(ctx, roomKey, limit)
	if err != nil {
		return types.WrapError(err, "could not load private messages")
	}
	users := make(map[string]*types.User)
	views := make([]types.PrivateMessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, types.NewPrivateMessageView(m, r.lookupUser(ctx, m.SenderId, users)))
	}
	r.reply(s, types.EventPrivateMessagesHistory, types.PrivateMessagesHistoryPayload{RoomKey: roomKey, Messages: views})
	return nil
}

func (r *Router) deleteMessage(_ context.Context, s *Session, userId string, data map[string]interface{}) error {
	p := types.DeleteMessagePayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	key, err := r.parseKey(p.RoomPayload)
	if err != nil {
		return err
	}
	if p.MessageId <= 0 {
		return types.NewError(types.KindValidation, "message_id is required")
	}

	ctx, cancel := r.opContext()
	defer cancel()
	env := policy.Env{Actor: policy.Actor{Id: userId}, Room: policy.Room{Id: key.RoomId, Key: key.Key}}
	if key.Private {
		if err := participant(key, userId); err != nil {
			return err
		}
		m, err := r.persister.GetPrivateMessage(ctx, p.MessageId)
		if err != nil {
			return lookupError(err, fmt.Sprintf("message %d", p.MessageId))
		}
		if m.RoomKey != key.Key {
			return types.NewError(types.KindNotFound, "message %d not found in %s", p.MessageId, key.Key)
		}
		env.Message = policy.Message{Id: m.Id, AuthorId: m.SenderId, Private: true}
	} else {
		room, err := r.getRoom(ctx, key.RoomId)
		if err != nil {
			return err
		}
		m, err := r.persister.GetMessage(ctx, p.MessageId)
		if err != nil {
			return lookupError(err, fmt.Sprintf("message %d", p.MessageId))
		}
		if m.RoomId != room.Id {
			return types.NewError(types.KindNotFound, "message %d not found in %s", p.MessageId, key.Key)
		}
		env.Message = policy.Message{Id: m.Id, AuthorId: m.UserId}
		env.Room.OwnerId = room.CreatedBy
	}
	if !r.policy.Allowed(env) {
		return types.NewError(types.KindAuth, "not allowed to delete message %d", p.MessageId)
	}

	if key.Private {
		err = r.persister.SoftDeletePrivateMessage(ctx, p.MessageId)
	} else {
		err = r.persister.SoftDeleteMessage(ctx, p.MessageId)
	}
	payload := types.MessageDeletedPayload{MessageId: p.MessageId, RoomKey: key.Key}
	if errors.Is(err, types.ErrAlreadyDeleted) {
		payload.AlreadyDeleted = true
		r.reply(s, types.EventMessageDeleted, payload)
		return nil
	}
	if err != nil {
		return types.WrapError(err, "could not delete message %d", p.MessageId)
	}
	r.toRoomAndCaller(s, key.Key, types.EventMessageDeleted, payload)
	return nil
}

// privatePeer resolves the other user of a private chat from other_user_id or, failing that, room_key.
func privatePeer(p types.PrivateChatPayload, userId string) (string, error) {
	other := p.OtherUserId
	if other == "" && p.RoomKey != "" {
		key, err := types.ParseRoomKey(p.RoomKey)
		if err != nil {
			return "", err
		}
		if !key.Private {
			return "", types.NewError(types.KindValidation, "%s is not a private room", key.Key)
		}
		if err := participant(key, userId); err != nil {
			return "", err
		}
		other = key.Other(userId)
	}
	if other == "" {
		return "", types.NewError(types.KindValidation, "other_user_id is required")
	}
	if other == userId {
		return "", types.NewError(types.KindValidation, "cannot open a private chat with yourself")
	}
	return other, nil
}

// requireUser fails with a not_found error unless userId has a stored record.
func (r *Router) requireUser(userId string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	if _, err := r.persister.GetUser(ctx, userId); err != nil {
		return lookupError(err, "user "+userId)
	}
	return nil
}

func (r *Router) joinPrivateChat(_ context.Context, s *Session, userId string, data map[string]interface{}) error {
	p := types.PrivateChatPayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	other, err := privatePeer(p, userId)
	if err != nil {
		return err
	}
	roomKey := types.PrivateRoomKey(userId, other)
	if p.RoomKey != "" {
		given, err := types.ParseRoomKey(p.RoomKey)
		if err != nil {
			return err
		}
		if given.Key != roomKey {
			return types.NewError(types.KindValidation, "room_key %s does not belong to users %s and %s", p.RoomKey, userId, other)
		}
	}
	if err := r.requireUser(other); err != nil {
		return err
	}

	count, added := r.tracker.Join(roomKey, userId)
	r.reply(s, types.EventJoinedRoom, types.RoomMembershipPayload{RoomKey: roomKey, MemberCount: count})
	if added {
		r.toRoom(roomKey, userId, types.EventUserJoined, types.RoomUserPayload{RoomKey: roomKey, UserId: userId, MemberCount: count})
	}
	return r.replyPrivateHistory(s, roomKey, r.cfg.HistoryConfig.ClampLimit(p.Limit))
}

func (r *Router) sendPrivateMessage(_ context.Context, s *Session, userId string, data map[string]interface{}) error {
	p := types.PrivateChatPayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	content, err := types.NormalizeContent(p.Content, r.cfg.ChatConfig.MaxContentLength)
	if err != nil {
		return err
	}
	other, err := privatePeer(p, userId)
	if err != nil {
		return err
	}
	return r.storePrivateMessage(s, userId, other, content)
}

// storePrivateMessage persists a validated private message and delivers it to the private room.
func (r *Router) storePrivateMessage(s *Session, userId, other, content string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	if _, err := r.persister.GetUser(ctx, other); err != nil {
		return lookupError(err, "user "+other)
	}
	message := &types.PrivateMessage{
		RoomKey:    types.PrivateRoomKey(userId, other),
		SenderId:   userId,
		ReceiverId: other,
		Content:    content,
	}
	if err := r.persister.CreatePrivateMessage(ctx, message); err != nil {
		return types.WrapError(err, "could not store private message")
	}
	view := types.NewPrivateMessageView(message, r.lookupUser(ctx, userId, nil))
	r.toRoomAndCaller(s, message.RoomKey, types.EventPrivateMessage, view)
	return nil
}

func (r *Router) checkUserStatus(_ context.Context, s *Session, _ string, data map[string]interface{}) error {
	p := types.UserStatusPayload{}
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.UserId == "" {
		return types.NewError(types.KindValidation, "user_id is required")
	}
	ctx, cancel := r.opContext()
	defer cancel()
	report, err := r.presence.Status(ctx, p.UserId)
	if err != nil {
		return err
	}
	r.reply(s, types.EventUserStatusResponse, report.Payload())
	return nil
}
