package types

import "time"

// Room is a persisted group room. Who is in the room right now is not stored here, see package room.
type Room struct {
	Id        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	CreatedBy string    `json:"created_by" gorm:"size:64;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Room) Key() string {
	return GroupRoomKey(r.Id)
}
