package broadcast

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// Hub connects [MemoryChannel] endpoints that live in one process.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*MemoryChannel]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*MemoryChannel]struct{})}
}

// Join attaches a new endpoint to the named channel.
func (h *Hub) Join(name string) *MemoryChannel {
	ch := &MemoryChannel{
		hub:  h,
		name: name,
		out:  make(chan Message, defaultBuffer),
	}

	h.mu.Lock()
	members := h.channels[name]
	if members == nil {
		members = make(map[*MemoryChannel]struct{})
		h.channels[name] = members
	}
	members[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *Hub) leave(ch *MemoryChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.channels[ch.name]
	delete(members, ch)
	if len(members) == 0 {
		delete(h.channels, ch.name)
	}
}

func (h *Hub) fanout(from *MemoryChannel, m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for member := range h.channels[from.name] {
		if member == from {
			continue
		}
		member.deliver(m)
	}
}

// MemoryChannel is an in-process endpoint.
type MemoryChannel struct {
	hub  *Hub
	name string

	mu     sync.Mutex
	out    chan Message
	closed bool
}

func (c *MemoryChannel) Publish(_ context.Context, m Message) error {
	if !m.Valid() {
		return ErrUnknownType
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.hub.fanout(c, m)
	return nil
}

// deliver drops the message when the receiver is not keeping up; messages are hints.
func (c *MemoryChannel) deliver(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- m:
	default:
	}
}

func (c *MemoryChannel) Messages() <-chan Message {
	return c.out
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.out)
	c.mu.Unlock()

	c.hub.leave(c)
	return nil
}

var _ Channel = (*MemoryChannel)(nil)
