package types

import "time"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type User struct {
	Id          string    `json:"id" gorm:"primaryKey;size:64"` // token subject, unique
	Email       string    `json:"email" gorm:"size:255"`
	FirstName   string    `json:"first_name" gorm:"size:255"`
	LastName    string    `json:"last_name" gorm:"size:255"`
	DisplayName string    `json:"display_name" gorm:"size:255"`
	AvatarUrl   string    `json:"avatar_url"`
	Status      string    `json:"status" gorm:"size:32;default:offline"` // mirror of the live presence, not the source of truth
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserInfo is the subset of the user's fields attached to outgoing messages.
type UserInfo struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarUrl   string `json:"avatar_url,omitempty"`
}

func (u *User) Info() UserInfo {
	if u == nil {
		return UserInfo{}
	}
	return UserInfo{
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarUrl:   u.AvatarUrl,
	}
}
