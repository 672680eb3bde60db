// Package session tracks the live, authenticated connections of the server and derives from them whether a
// user is online.
package session

import (
	"sort"
	"sync"
	"time"
)

// Conn is a live client connection as seen by the registry.
type Conn interface {
	Id() string
	// Enqueue queues an encoded event for the connection without blocking, false if it could not be queued.
	Enqueue(data []byte) bool
	Close()
}

type entry struct {
	conn      Conn
	userId    string
	createdAt time.Time
}

// Registry maps connections to users. A user is online while at least one of their connections is
// registered; Register and Unregister report the transitions so that exactly one caller sees each flip.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	users map[string]map[string]Conn // userId -> connId -> conn
	seen  map[string]time.Time       // last transition per user in this process
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		users: make(map[string]map[string]Conn),
		seen:  make(map[string]time.Time),
	}
}

// Register maps the connection to userId, replacing a previous mapping of the same connection. It returns
// true if the user had no other connection.
func (r *Registry) Register(conn Conn, userId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := conn.Id()
	if old, ok := r.conns[id]; ok {
		if old.userId == userId {
			return false
		}
		r.removeLocked(id)
	}
	r.conns[id] = &entry{conn: conn, userId: userId, createdAt: time.Now()}
	userConns := r.users[userId]
	cameOnline := len(userConns) == 0
	if userConns == nil {
		userConns = make(map[string]Conn)
		r.users[userId] = userConns
	}
	userConns[id] = conn
	if cameOnline {
		r.seen[userId] = time.Now()
	}
	return cameOnline
}

// removeLocked drops the connection and reports whether it was the user's last one.
func (r *Registry) removeLocked(connId string) (string, bool) {
	e := r.conns[connId]
	delete(r.conns, connId)
	userConns := r.users[e.userId]
	delete(userConns, connId)
	if len(userConns) == 0 {
		delete(r.users, e.userId)
		r.seen[e.userId] = time.Now()
		return e.userId, true
	}
	return e.userId, false
}

// Unregister removes the connection. ok is false if it was not registered; wentOffline is true if it was the
// user's last connection.
func (r *Registry) Unregister(connId string) (userId string, wentOffline bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.conns[connId]; !found {
		return "", false, false
	}
	userId, wentOffline = r.removeLocked(connId)
	return userId, wentOffline, true
}

func (r *Registry) UserId(connId string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connId]
	if !ok {
		return "", false
	}
	return e.userId, true
}

func (r *Registry) IsOnline(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userId]) > 0
}

// LastTransition returns when the user last came online or went offline in this process.
func (r *Registry) LastTransition(userId string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.seen[userId]
	return t, ok
}

// Conns returns a snapshot of the user's connections.
func (r *Registry) Conns(userId string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userConns := r.users[userId]
	res := make([]Conn, 0, len(userConns))
	for _, c := range userConns {
		res = append(res, c)
	}
	return res
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Conn, 0, len(r.conns))
	for _, e := range r.conns {
		res = append(res, e.conn)
	}
	return res
}

// OnlineUsers returns the ids of all online users, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.users))
	for userId := range r.users {
		res = append(res, userId)
	}
	sort.Strings(res)
	return res
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
