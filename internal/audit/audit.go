package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/observability/metrics"
	"AgneticGOD/pkg/logger"
)

// Event 记录一次动作调用的结果，供外部审计系统消费。
type Event struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	RequestID   string    `json:"request_id"`
	Operation   string    `json:"operation"`
	UserAddress string    `json:"user_address,omitempty"`
	Kind        string    `json:"kind"`
	Success     bool      `json:"success"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Payload     string    `json:"payload"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewEvent 填充事件 ID 与时间戳。
func NewEvent(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return e
}

func (e Event) encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("序列化审计事件失败: %w", err)
	}
	return data, nil
}

// Publisher 负责投递审计事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Discard 丢弃所有事件，用于未配置审计的场景。
type Discard struct{}

// Publish 忽略事件。
func (Discard) Publish(context.Context, Event) error { return nil }

// Close 无需释放资源。
func (Discard) Close() error { return nil }

// Fanout 将事件广播给多个发布器。
type Fanout struct {
	publishers []Publisher
}

// NewFanout 创建一个新的 Fanout，忽略 nil 发布器。
func NewFanout(publishers ...Publisher) *Fanout {
	set := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			set = append(set, p)
		}
	}
	return &Fanout{publishers: set}
}

// Publish 将事件投递到所有发布器，汇总全部错误。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for i, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有发布器。
func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.publishers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

type guarded struct {
	inner  Publisher
	driver string
	log    *slog.Logger
}

// Guard 包装发布器：投递失败只记录日志与指标，不向调用方返回错误。
func Guard(p Publisher, driver string) Publisher {
	if p == nil {
		return Discard{}
	}
	return &guarded{inner: p, driver: driver, log: logger.Component("audit")}
}

func (g *guarded) Publish(ctx context.Context, event Event) error {
	if err := g.inner.Publish(ctx, event); err != nil {
		metrics.ObserveAuditFailure(g.driver)
		g.log.Warn("审计事件投递失败",
			slog.String("driver", g.driver),
			slog.String("event_id", event.ID),
			slog.String("operation", event.Operation),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
	}
	return nil
}

func (g *guarded) Close() error {
	return g.inner.Close()
}
