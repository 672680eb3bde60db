package types

import (
	"strings"
	"time"
	"unicode/utf8"
)

const DefaultMaxContentLength = 5000

// Message is a group room message. It is never removed, only flagged as deleted.
type Message struct {
	Id        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomId    int64     `json:"room_id" gorm:"index;not null"`
	UserId    string    `json:"user_id" gorm:"size:64;index;not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	Deleted   bool      `json:"deleted" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// PrivateMessage is a message between two users, grouped by the private room key.
type PrivateMessage struct {
	Id         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomKey    string    `json:"room_key" gorm:"size:160;index;not null"`
	SenderId   string    `json:"sender_id" gorm:"size:64;index;not null"`
	ReceiverId string    `json:"receiver_id" gorm:"size:64;index;not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	Deleted    bool      `json:"deleted" gorm:"default:false"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// NormalizeContent trims the content and checks that it has between 1 and maxLen characters.
func NormalizeContent(content string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLength
	}
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	if n == 0 || n > maxLen {
		return "", NewError(KindValidation, "message content must be between 1 and %d characters", maxLen)
	}
	return content, nil
}

// MessageView is the wire representation of a group message, enriched with the author's display fields.
type MessageView struct {
	Id        int64     `json:"id"`
	RoomId    int64     `json:"room_id"`
	RoomKey   string    `json:"room_key"`
	UserId    string    `json:"user_id"`
	Content   string    `json:"content"`
	Deleted   bool      `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
	User      UserInfo  `json:"user"`
}

func NewMessageView(m *Message, author *User) MessageView {
	v := MessageView{
		Id:        m.Id,
		RoomId:    m.RoomId,
		RoomKey:   GroupRoomKey(m.RoomId),
		UserId:    m.UserId,
		Content:   m.Content,
		Deleted:   m.Deleted,
		Timestamp: m.CreatedAt,
		User:      author.Info(),
	}
	if m.Deleted {
		v.Content = ""
	}
	return v
}

// PrivateMessageView is the wire representation of a private message.
type PrivateMessageView struct {
	Id         int64     `json:"id"`
	RoomKey    string    `json:"room_key"`
	SenderId   string    `json:"sender_id"`
	ReceiverId string    `json:"receiver_id"`
	Content    string    `json:"content"`
	Deleted    bool      `json:"deleted"`
	Timestamp  time.Time `json:"timestamp"`
	User       UserInfo  `json:"user"`
}

func NewPrivateMessageView(m *PrivateMessage, sender *User) PrivateMessageView {
	v := PrivateMessageView{
		Id:         m.Id,
		RoomKey:    m.RoomKey,
		SenderId:   m.SenderId,
		ReceiverId: m.ReceiverId,
		Content:    m.Content,
		Deleted:    m.Deleted,
		Timestamp:  m.CreatedAt,
		User:       sender.Info(),
	}
	if m.Deleted {
		v.Content = ""
	}
	return v
}
