package hub

import "sync"

type Writer[T any] interface {
	Write(v T) error
	Close() error
}

type Connection[T any] struct {
	Key    string
	Writer Writer[T]
}

// Hub fans values out to every connection registered under a key. A writer
// that fails is closed and dropped.
type Hub[T any] struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection[T]]struct{}
}

func New[T any]() *Hub[T] {
	return &Hub[T]{connections: make(map[string]map[*Connection[T]]struct{})}
}

func (h *Hub[T]) Register(conn *Connection[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.Key] == nil {
		h.connections[conn.Key] = make(map[*Connection[T]]struct{})
	}
	h.connections[conn.Key][conn] = struct{}{}
}

func (h *Hub[T]) Unregister(conn *Connection[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Key]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Key)
	}
}

func (h *Hub[T]) Count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[key])
}

func (h *Hub[T]) Broadcast(key string, v T) {
	h.mu.RLock()
	set := h.connections[key]
	conns := make([]*Connection[T], 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection[T]
	for _, c := range conns {
		if err := c.Writer.Write(v); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// CloseAll closes and drops every connection.
func (h *Hub[T]) CloseAll() {
	h.mu.Lock()
	var conns []*Connection[T]
	for _, set := range h.connections {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.connections = make(map[string]map[*Connection[T]]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Writer.Close()
	}
}
