package types

import (
	"strconv"
	"strings"
)

const (
	groupRoomPrefix   = "room_"
	privateRoomPrefix = "private_"
)

// RoomKey identifies a broadcast scope: a persisted group room or a virtual private room.
type RoomKey struct {
	Key     string
	RoomId  int64     // group rooms only
	Users   [2]string // private rooms only, canonical order
	Private bool
}

func (k RoomKey) String() string {
	return k.Key
}

// Includes reports whether userId is one of the two participants of a private room.
func (k RoomKey) Includes(userId string) bool {
	return k.Private && (k.Users[0] == userId || k.Users[1] == userId)
}

// Other returns the participant of a private room that is not userId.
func (k RoomKey) Other(userId string) string {
	if k.Users[0] == userId {
		return k.Users[1]
	}
	return k.Users[0]
}

func GroupRoomKey(roomId int64) string {
	return groupRoomPrefix + strconv.FormatInt(roomId, 10)
}

// PrivateRoomKey derives the key of the private room between a and b. Both participants get the same
// key regardless of argument order.
func PrivateRoomKey(a, b string) string {
	lo, hi := orderUserIds(a, b)
	return privateRoomPrefix + lo + "_" + hi
}

func orderUserIds(a, b string) (string, string) {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	// "3" and "03" are different users with the same number, they fall back to lexicographic order
	if aErr == nil && bErr == nil && ai != bi {
		if ai < bi {
			return a, b
		}
		return b, a
	}
	if a <= b {
		return a, b
	}
	return b, a
}

// ParseRoomKey classifies a room key. Group rooms are accepted as "room_<id>" or "<id>", private rooms
// as "private_<a>_<b>"; the returned Key is always canonical.
func ParseRoomKey(s string) (RoomKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RoomKey{}, NewError(KindValidation, "room_key is required")
	}
	if strings.HasPrefix(s, privateRoomPrefix) {
		rest := s[len(privateRoomPrefix):]
		// user ids may be negative numbers ("-1"), never contain "_" themselves
		parts := strings.Split(rest, "_")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
			return RoomKey{}, NewError(KindValidation, "invalid private room key %q", s)
		}
		lo, hi := orderUserIds(parts[0], parts[1])
		return RoomKey{Key: privateRoomPrefix + lo + "_" + hi, Users: [2]string{lo, hi}, Private: true}, nil
	}
	idStr := strings.TrimPrefix(s, groupRoomPrefix)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return RoomKey{}, NewError(KindValidation, "invalid room key %q", s)
	}
	return RoomKey{Key: GroupRoomKey(id), RoomId: id}, nil
}
