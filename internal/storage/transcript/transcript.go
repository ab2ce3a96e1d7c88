package transcript

import (
	"context"
	"time"

	"AgneticGOD/internal/llm"
)

// Outcome 描述一轮对话的结束方式。
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
)

// Turn 是一轮对话的落库结构。Messages 包含本轮的用户消息、模型回复与工具结果。
type Turn struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Prompt      string        `json:"prompt"`
	Messages    []llm.Message `json:"messages"`
	Outcome     Outcome       `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Restorable 判断该轮对话是否应回放到会话记忆中。失败的轮次只有在执行过动作时才回放。
func (t Turn) Restorable() bool {
	switch t.Outcome {
	case OutcomeCompleted, OutcomeAborted:
		return true
	case OutcomeFailed:
		for _, m := range t.Messages {
			if m.Role == llm.RoleTool {
				return true
			}
		}
	}
	return false
}

// Repository 抽象对话记录的持久化接口。
type Repository interface {
	// Append 追加一轮对话。
	Append(ctx context.Context, turn Turn) error
	// Recent 返回指定会话最近的 limit 轮对话，按时间正序排列。limit <= 0 表示全部。
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Close() error
}

// Discard 不保存任何记录。
type Discard struct{}

// Append 忽略记录。
func (Discard) Append(context.Context, Turn) error { return nil }

// Recent 始终返回空结果。
func (Discard) Recent(context.Context, string, int) ([]Turn, error) { return nil, nil }

// Close 无需释放资源。
func (Discard) Close() error { return nil }
