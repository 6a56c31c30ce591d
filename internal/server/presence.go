package server

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
)

const presenceWriteTimeout = 5 * time.Second

// PresenceTracker maps connections to announced users. A user is online
// while at least one of their connections is bound.
type PresenceTracker struct {
	mu        sync.Mutex
	connUser  map[string]string
	userConns map[string]map[string]struct{}
	// users whose online state was last stored and broadcast as online
	committed map[string]struct{}
	locks     map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		connUser:  make(map[string]string),
		userConns: make(map[string]map[string]struct{}),
		committed: make(map[string]struct{}),
		locks:     make(map[string]*userLock),
	}
}

// lockUser serializes presence commits of userId and returns the unlock
// function.
func (p *PresenceTracker) lockUser(userId string) func() {
	p.mu.Lock()
	l := p.locks[userId]
	if l == nil {
		l = &userLock{}
		p.locks[userId] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, userId)
		}
		p.mu.Unlock()
	}
}

// transition compares the bound state of userId with the last committed one.
// changed is true when online differs and the new state is now recorded as
// committed. Callers hold the user's lock.
func (p *PresenceTracker) transition(userId string) (online, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	online = len(p.userConns[userId]) > 0
	_, was := p.committed[userId]
	if online == was {
		return online, false
	}
	if online {
		p.committed[userId] = struct{}{}
	} else {
		delete(p.committed, userId)
	}
	return online, true
}

// Bind associates connId with userId. first is true when userId had no
// other bound connection. A connection previously bound to a different user
// is unbound from it first; prevLast reports whether that left prev offline.
func (p *PresenceTracker) Bind(connId, userId string) (first bool, prev string, prevLast bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.connUser[connId]; ok {
		if cur == userId {
			return false, "", false
		}
		prev = cur
		prevLast = p.unbindLocked(connId)
	}

	p.connUser[connId] = userId
	conns := p.userConns[userId]
	if conns == nil {
		conns = make(map[string]struct{})
		p.userConns[userId] = conns
	}
	conns[connId] = struct{}{}

	return len(conns) == 1, prev, prevLast
}

// Unbind drops connId. last is true when it was the user's only connection.
func (p *PresenceTracker) Unbind(connId string) (userId string, last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userId, ok := p.connUser[connId]
	if !ok {
		return "", false
	}
	return userId, p.unbindLocked(connId)
}

func (p *PresenceTracker) unbindLocked(connId string) bool {
	userId := p.connUser[connId]
	delete(p.connUser, connId)

	conns := p.userConns[userId]
	delete(conns, connId)
	if len(conns) == 0 {
		delete(p.userConns, userId)
		return true
	}
	return false
}

func (p *PresenceTracker) IsOnline(userId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.userConns[userId]) > 0
}

func (p *PresenceTracker) UserOf(connId string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userId, ok := p.connUser[connId]
	return userId, ok
}

func (p *PresenceTracker) OnlineUsers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.userConns)
}

// Announce binds the connection to userId and its personal channel. The
// first connection of a user marks them online and broadcasts the change.
func (cs *ChatServer) Announce(c *Client, userId string) {
	cs.router.JoinPersonal(c, userId)
	c.setAnnounced(userId)

	first, prev, prevLast := cs.presence.Bind(c.id, userId)
	if prevLast {
		cs.commitPresence(prev)
	}
	if first {
		cs.commitPresence(userId)
	}
}

// Disconnect unbinds the connection. When it was the user's last one the
// user is marked offline with lastSeen set to now and peers are notified.
func (cs *ChatServer) Disconnect(c *Client) {
	userId, last := cs.presence.Unbind(c.id)
	if userId == "" || !last {
		return
	}
	cs.commitPresence(userId)
}

// commitPresence stores and broadcasts the current state of userId unless it
// was already committed. Commits of one user run one at a time and always
// read the tracker under that lock, so the last one to run reflects the
// connections bound at that moment.
func (cs *ChatServer) commitPresence(userId string) {
	unlock := cs.presence.lockUser(userId)
	defer unlock()

	online, changed := cs.presence.transition(userId)
	if !changed {
		return
	}

	if online {
		cs.stats.Incr(stats.OnlineUsers)
	} else {
		cs.stats.Decr(stats.OnlineUsers)
	}
	cs.writePresence(userId, online, Now())
	cs.publish(&Envelope{
		All:   true,
		Frame: NewEvent(EventUserStatus, types.UserStatus{UserId: userId, IsOnline: online}),
	})
}

// writePresence persists the presence change. Failures are logged only.
func (cs *ChatServer) writePresence(userId string, online bool, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()

	if err := cs.db.SetUserPresence(ctx, userId, online, at); err != nil {
		cs.log.Printf("SetUserPresence(%q, %t): %v", userId, online, err)
	}
}
