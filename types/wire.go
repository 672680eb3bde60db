package types

import "encoding/json"

// Inbound event names.
const (
	EventAuthenticateSession = "authenticate_session"
	EventJoinRoom            = "join_room"
	EventLeaveRoom           = "leave_room"
	EventSendMessage         = "send_message"
	EventTyping              = "typing"
	EventGetMessages         = "get_messages"
	EventDeleteMessage       = "delete_message"
	EventJoinPrivateChat     = "join_private_chat"
	EventSendPrivateMessage  = "send_private_message"
	EventCheckUserStatus     = "check_user_status"
)

// Outbound event names.
const (
	EventConnected              = "connected"
	EventError                  = "error"
	EventJoinedRoom             = "joined_room"
	EventLeftRoom               = "left_room"
	EventUserJoined             = "user_joined"
	EventUserLeft               = "user_left"
	EventNewMessage             = "new_message"
	EventMessagesHistory        = "messages_history"
	EventMessageDeleted         = "message_deleted"
	EventUserTyping             = "user_typing"
	EventPrivateMessage         = "private_message"
	EventPrivateMessagesHistory = "private_messages_history"
	EventPrivateUserTyping      = "private_user_typing"
	EventUserStatusChanged      = "user_status_changed"
	EventUserStatusUpdate       = "user_status_update"
	EventUserStatusResponse     = "user_status_response"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection. Clients may attach
// a token to any event, it takes precedence over the token given at connection time.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Token string          `json:"token,omitempty"`
}

// EncodeEvent marshals an outbound event into its wire form.
func EncodeEvent(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: data})
}

// The inbound payloads, decoded from the "data" object with mapstructure.WeakDecode.

type AuthenticatePayload struct {
	Token string `mapstructure:"token"`
}

type RoomPayload struct {
	RoomKey string `mapstructure:"room_key"`
	RoomId  string `mapstructure:"room_id"` // older clients
}

// Key returns room_key, falling back to room_id.
func (p RoomPayload) Key() string {
	if p.RoomKey != "" {
		return p.RoomKey
	}
	return p.RoomId
}

type SendMessagePayload struct {
	RoomPayload `mapstructure:",squash"`
	Content     string `mapstructure:"content"`
}

type TypingPayload struct {
	RoomPayload `mapstructure:",squash"`
	IsTyping    *bool `mapstructure:"is_typing"`
}

type GetMessagesPayload struct {
	RoomPayload `mapstructure:",squash"`
	Limit       int `mapstructure:"limit"`
}

type DeleteMessagePayload struct {
	RoomPayload `mapstructure:",squash"`
	MessageId   int64 `mapstructure:"message_id"`
}

type PrivateChatPayload struct {
	RoomKey     string `mapstructure:"room_key"`
	OtherUserId string `mapstructure:"other_user_id"`
	Content     string `mapstructure:"content"`
	Limit       int    `mapstructure:"limit"`
}

type UserStatusPayload struct {
	UserId string `mapstructure:"user_id"`
}

// Outbound payloads.

type ErrorPayload struct {
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

type ConnectedPayload struct {
	Message string `json:"message"`
	Sid     string `json:"sid"`
}

type RoomMembershipPayload struct {
	RoomKey     string `json:"room_key"`
	RoomName    string `json:"room_name,omitempty"`
	MemberCount int    `json:"member_count"`
}

type RoomUserPayload struct {
	RoomKey     string `json:"room_key"`
	UserId      string `json:"user_id"`
	MemberCount int    `json:"member_count"`
}

type TypingEventPayload struct {
	RoomKey  string `json:"room_key"`
	UserId   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type MessagesHistoryPayload struct {
	RoomKey  string        `json:"room_key"`
	Messages []MessageView `json:"messages"`
}

type PrivateMessagesHistoryPayload struct {
	RoomKey  string               `json:"room_key"`
	Messages []PrivateMessageView `json:"messages"`
}

type MessageDeletedPayload struct {
	MessageId      int64  `json:"message_id"`
	RoomKey        string `json:"room_key"`
	AlreadyDeleted bool   `json:"already_deleted,omitempty"`
}

type UserStatusEventPayload struct {
	UserId   string `json:"user_id"`
	Status   string `json:"status"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}
