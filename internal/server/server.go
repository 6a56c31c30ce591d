package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/stats"
)

const (
	publishTimeout = 5 * time.Second
	dbTimeout      = 10 * time.Second
)

var (
	ErrNoSuchChat     = errors.New("chat not found")
	ErrNotParticipant = errors.New("not a participant of this chat")
	ErrBlocked        = errors.New("messaging is blocked between these users")
	ErrShuttingDown   = errors.New("server is shutting down")
)

type ChatServer struct {
	log      *log.Logger
	db       database.ChatRepository
	stats    stats.StatsProvider
	bus      Bus
	presence *PresenceTracker
	router   *RoomRouter

	clients        map[*Client]struct{}
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan *Room

	rooms     map[string]*Room
	roomsLock sync.Mutex
	stopped   bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, st stats.StatsProvider, bus Bus) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          st,
		bus:            bus,
		presence:       NewPresenceTracker(),
		router:         NewRoomRouter(),
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan *Room),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	if err := bus.Subscribe(context.Background(), cs.deliverLocal); err != nil {
		return nil, fmt.Errorf("subscribe to bus: %w", err)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.registerChan:
			cs.log.Printf("adding connection %s from %q", client.id, client.user.Id)
			cs.clients[client] = struct{}{}
			cs.stats.Incr(stats.ActiveConnections)
		case client := <-cs.deRegisterChan:
			if _, ok := cs.clients[client]; ok {
				cs.log.Printf("removing connection %s from %q", client.id, client.user.Id)
				delete(cs.clients, client)
				cs.stats.Decr(stats.ActiveConnections)
			}
		case r := <-cs.unloadRoomChan:
			cs.unloadRoom(r)
		case <-cs.stop:
			cs.log.Println("shutting down clients")
			for c := range cs.clients {
				c.stopClient()
			}

			cs.roomsLock.Lock()
			cs.stopped = true
			rooms := make([]*Room, 0, len(cs.rooms))
			for id, r := range cs.rooms {
				rooms = append(rooms, r)
				delete(cs.rooms, id)
			}
			cs.roomsLock.Unlock()

			cs.log.Println("shutting down rooms")
			for _, r := range rooms {
				r.signalExit()
				<-r.done
				cs.stats.Decr(stats.ActiveRooms)
			}

			close(cs.done)
			return
		}
	}
}

// RegisterClient hands a new connection to the server loop. The connection
// is routable once it returns.
func (cs *ChatServer) RegisterClient(c *Client) error {
	select {
	case cs.registerChan <- c:
		cs.router.Register(c)
		return nil
	case <-cs.done:
		return ErrShuttingDown
	}
}

func (cs *ChatServer) deregisterClient(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

// loadRoom returns the running actor for chatId, starting one if needed.
func (cs *ChatServer) loadRoom(ctx context.Context, chatId string) (*Room, error) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if cs.stopped {
		return nil, ErrShuttingDown
	}
	if r, ok := cs.rooms[chatId]; ok {
		return r, nil
	}

	chat, err := cs.db.GetChat(ctx, chatId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSuchChat
		}
		return nil, fmt.Errorf("load chat %q: %w", chatId, err)
	}

	r := newRoom(cs, chat)
	cs.rooms[chatId] = r
	cs.stats.Incr(stats.ActiveRooms)
	go r.start()

	return r, nil
}

// unloadRoom stops r if it is still the registered actor for its chat.
func (cs *ChatServer) unloadRoom(r *Room) {
	cs.roomsLock.Lock()
	if cur, ok := cs.rooms[r.id]; !ok || cur != r {
		cs.roomsLock.Unlock()
		return
	}
	cs.log.Printf("unloading room %q", r.id)
	delete(cs.rooms, r.id)
	cs.roomsLock.Unlock()

	r.signalExit()
	<-r.done
	cs.stats.Decr(stats.ActiveRooms)
}

// UnloadRoom stops the actor of chatId, if any, so that the next write
// reloads the chat from the store.
func (cs *ChatServer) UnloadRoom(chatId string) {
	cs.roomsLock.Lock()
	r, ok := cs.rooms[chatId]
	cs.roomsLock.Unlock()

	if ok {
		cs.unloadRoom(r)
	}
}

func (cs *ChatServer) IsOnline(userId string) bool {
	return cs.presence.IsOnline(userId)
}

// Shutdown stops all clients and rooms. It returns early with the context's
// error when ctx expires first.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.stopOnce.Do(func() {
		close(cs.stop)
	})

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
