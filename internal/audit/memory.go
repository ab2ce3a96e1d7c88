package audit

import (
	"context"
	"errors"
	"sync"
)

// MemoryPublisher 在内存中保留最近的事件，主要用于测试与本地调试。
type MemoryPublisher struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	closed   bool
}

// NewMemoryPublisher 创建内存发布器。
func NewMemoryPublisher(capacity int) *MemoryPublisher {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryPublisher{capacity: capacity}
}

// Publish 追加事件，超出容量时丢弃最早的事件。
func (m *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("审计发布器已关闭")
	}
	m.events = append(m.events, event)
	if len(m.events) > m.capacity {
		m.events = m.events[len(m.events)-m.capacity:]
	}
	return nil
}

// Events 返回当前保留事件的副本。
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Close 关闭发布器。
func (m *MemoryPublisher) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
