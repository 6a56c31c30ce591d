package server

import (
	"sync"
)

type clientSet map[*Client]struct{}

// RoomRouter tracks which connections joined which chat groups and which
// connections belong to each user's personal channel.
type RoomRouter struct {
	mu       sync.RWMutex
	clients  clientSet
	groups   map[string]clientSet
	personal map[string]clientSet
	// reverse index used on disconnect
	joined map[*Client]map[string]struct{}
	owner  map[*Client]string
}

func NewRoomRouter() *RoomRouter {
	return &RoomRouter{
		clients:  make(clientSet),
		groups:   make(map[string]clientSet),
		personal: make(map[string]clientSet),
		joined:   make(map[*Client]map[string]struct{}),
		owner:    make(map[*Client]string),
	}
}

func (rr *RoomRouter) Register(c *Client) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.clients[c] = struct{}{}
}

// Unregister removes the connection from every group and its personal
// channel.
func (rr *RoomRouter) Unregister(c *Client) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	for chatId := range rr.joined[c] {
		rr.removeFrom(rr.groups, chatId, c)
	}
	delete(rr.joined, c)

	if userId, ok := rr.owner[c]; ok {
		rr.removeFrom(rr.personal, userId, c)
		delete(rr.owner, c)
	}

	delete(rr.clients, c)
}

// Join adds the connection to the chat group. It reports whether the
// connection was not already a member.
func (rr *RoomRouter) Join(c *Client, chatId string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, ok := rr.groups[chatId][c]; ok {
		return false
	}

	if rr.groups[chatId] == nil {
		rr.groups[chatId] = make(clientSet)
	}
	rr.groups[chatId][c] = struct{}{}

	if rr.joined[c] == nil {
		rr.joined[c] = make(map[string]struct{})
	}
	rr.joined[c][chatId] = struct{}{}

	return true
}

// Leave removes the connection from the chat group. It reports whether the
// connection was a member.
func (rr *RoomRouter) Leave(c *Client, chatId string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, ok := rr.groups[chatId][c]; !ok {
		return false
	}

	rr.removeFrom(rr.groups, chatId, c)
	delete(rr.joined[c], chatId)
	if len(rr.joined[c]) == 0 {
		delete(rr.joined, c)
	}

	return true
}

// JoinPersonal binds the connection to userId's personal channel, leaving
// any channel it was bound to before.
func (rr *RoomRouter) JoinPersonal(c *Client, userId string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if prev, ok := rr.owner[c]; ok {
		if prev == userId {
			return
		}
		rr.removeFrom(rr.personal, prev, c)
	}

	if rr.personal[userId] == nil {
		rr.personal[userId] = make(clientSet)
	}
	rr.personal[userId][c] = struct{}{}
	rr.owner[c] = userId
}

func (rr *RoomRouter) removeFrom(index map[string]clientSet, key string, c *Client) {
	set := index[key]
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

func (rr *RoomRouter) IsJoined(c *Client, chatId string) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	_, ok := rr.groups[chatId][c]
	return ok
}

func (rr *RoomRouter) GroupSize(chatId string) int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return len(rr.groups[chatId])
}

// Resolve returns the connections addressed by env, each at most once.
func (rr *RoomRouter) Resolve(env *Envelope) []*Client {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	targets := make(clientSet)
	if env.All {
		for c := range rr.clients {
			targets[c] = struct{}{}
		}
	} else {
		for _, chatId := range env.Rooms {
			for c := range rr.groups[chatId] {
				targets[c] = struct{}{}
			}
		}
		for _, userId := range env.Users {
			for c := range rr.personal[userId] {
				targets[c] = struct{}{}
			}
		}
	}

	out := make([]*Client, 0, len(targets))
	for c := range targets {
		if env.ExcludeConn != "" && c.id == env.ExcludeConn {
			continue
		}
		if env.ExcludeUser != "" && c.UserId() == env.ExcludeUser {
			continue
		}
		out = append(out, c)
	}

	return out
}
