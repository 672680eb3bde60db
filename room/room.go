// Package room keeps track of which users receive the live events of which room. Membership here is not
// persisted and grants nothing; it only scopes the broadcasts.
package room

import (
	"sort"
	"sync"
)

// Tracker maps room keys to the set of subscribed user ids, with a reverse index for the disconnect cascade.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room key -> users
	users map[string]map[string]struct{} // user -> room keys
}

func NewTracker() *Tracker {
	return &Tracker{
		rooms: make(map[string]map[string]struct{}),
		users: make(map[string]map[string]struct{}),
	}
}

// Join adds the user to the room and returns the new member count. added is false if the user already was a member.
func (t *Tracker) Join(key, userId string) (count int, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members := t.rooms[key]
	if members == nil {
		members = make(map[string]struct{})
		t.rooms[key] = members
	}
	if _, ok := members[userId]; ok {
		return len(members), false
	}
	members[userId] = struct{}{}
	rooms := t.users[userId]
	if rooms == nil {
		rooms = make(map[string]struct{})
		t.users[userId] = rooms
	}
	rooms[key] = struct{}{}
	return len(members), true
}

// Leave removes the user from the room and returns the remaining member count.
func (t *Tracker) Leave(key, userId string) (count int, removed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed = t.leaveLocked(key, userId)
	return len(t.rooms[key]), removed
}

func (t *Tracker) leaveLocked(key, userId string) bool {
	members, ok := t.rooms[key]
	if !ok {
		return false
	}
	if _, ok := members[userId]; !ok {
		return false
	}
	delete(members, userId)
	if len(members) == 0 {
		delete(t.rooms, key)
	}
	if rooms, ok := t.users[userId]; ok {
		delete(rooms, key)
		if len(rooms) == 0 {
			delete(t.users, userId)
		}
	}
	return true
}

// LeaveAll removes the user from every room and returns the remaining member count per left room.
func (t *Tracker) LeaveAll(userId string) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms := t.users[userId]
	res := make(map[string]int, len(rooms))
	for key := range rooms {
		t.leaveLocked(key, userId)
		res[key] = len(t.rooms[key])
	}
	return res
}

func (t *Tracker) MemberCount(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[key])
}

// Members returns a sorted snapshot of the room's members.
func (t *Tracker) Members(key string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := t.rooms[key]
	res := make([]string, 0, len(members))
	for userId := range members {
		res = append(res, userId)
	}
	sort.Strings(res)
	return res
}

func (t *Tracker) IsMember(key, userId string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[key][userId]
	return ok
}

// Rooms returns the keys of the rooms the user is subscribed to, sorted.
func (t *Tracker) Rooms(userId string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rooms := t.users[userId]
	res := make([]string, 0, len(rooms))
	for key := range rooms {
		res = append(res, key)
	}
	sort.Strings(res)
	return res
}
