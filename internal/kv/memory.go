// Package kv provides key/value backends for client-scoped state such as the
// exit-intent suppression record.
package kv

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds a Memory store created with a non-positive capacity.
const DefaultCapacity = 10000

type entry struct {
	key   string
	value string
}

// Memory is a thread-safe in-memory store bounded by capacity. When full, the
// least recently used key is evicted; for suppression records that means a
// long-idle visitor may see the popup again, which is the fail-open side.
type Memory struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

// NewMemory creates a store holding at most capacity keys.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the value for key. Reading a key marks it recently used.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	m.order.MoveToFront(el)
	return el.Value.(*entry).value, true, nil
}

// Set stores value under key, evicting the least recently used key if full.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		el.Value.(*entry).value = value
		m.order.MoveToFront(el)
		return nil
	}
	if len(m.items) >= m.capacity {
		if victim := m.order.Back(); victim != nil {
			m.order.Remove(victim)
			delete(m.items, victim.Value.(*entry).key)
		}
	}
	m.items[key] = m.order.PushFront(&entry{key: key, value: value})
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.order.Remove(el)
		delete(m.items, key)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Keys returns keys from most to least recently used.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for el := m.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}
