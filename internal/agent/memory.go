package agent

import (
	"sync"

	"AgneticGOD/internal/llm"
)

// Memory 按轮次保存会话消息。limit 大于 0 时只保留最近的 limit 轮，整轮淘汰。
type Memory struct {
	mu    sync.RWMutex
	limit int
	turns [][]llm.Message
}

// NewMemory 创建会话记忆，limit <= 0 表示不限制。
func NewMemory(limit int) *Memory {
	if limit < 0 {
		limit = 0
	}
	return &Memory{limit: limit}
}

// Append 追加一轮完整的消息。
func (m *Memory) Append(turn []llm.Message) {
	if len(turn) == 0 {
		return
	}
	clone := make([]llm.Message, len(turn))
	copy(clone, turn)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, clone)
	if m.limit > 0 && len(m.turns) > m.limit {
		m.turns = m.turns[len(m.turns)-m.limit:]
	}
}

// Messages 返回按时间顺序展开的全部消息副本。
func (m *Memory) Messages() []llm.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, turn := range m.turns {
		total += len(turn)
	}
	out := make([]llm.Message, 0, total)
	for _, turn := range m.turns {
		out = append(out, turn...)
	}
	return out
}

// Turns 返回当前保留的轮数。
func (m *Memory) Turns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}
