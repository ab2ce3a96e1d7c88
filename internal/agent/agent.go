package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"AgneticGOD/internal/action"
	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/llm"
	"AgneticGOD/internal/observability/metrics"
	"AgneticGOD/internal/storage/transcript"
	"AgneticGOD/internal/stream"
	"AgneticGOD/pkg/logger"
)

const (
	// DefaultSessionID 是进程内唯一会话的固定标识。
	DefaultSessionID = "AgneticGOD Chatbot"
	// AbortNotice 在一轮对话请求的动作过多时发送给前端。
	AbortNotice = "Turn aborted: too many actions"

	defaultMaxIterations = 10
	defaultRestoreTurns  = 100
	recordTimeout        = 5 * time.Second
)

// ErrTurnAborted 表示本轮因超过动作轮数上限而终止。可通过 errors.Is 判断。
var ErrTurnAborted = xerrors.New(xerrors.CodeTurnAborted, AbortNotice)

// Actions 是 Agent 依赖的动作注册表能力。
type Actions interface {
	Specs() []llm.ToolSpec
	Invoke(ctx context.Context, req action.Request) action.Result
}

// Recorder 保存并恢复对话记录。
type Recorder interface {
	Append(ctx context.Context, turn transcript.Turn) error
	Recent(ctx context.Context, sessionID string, limit int) ([]transcript.Turn, error)
}

// Agent 协调决策模型与动作注册表，是系统的业务核心。
type Agent struct {
	oracle  llm.Oracle
	actions Actions

	persona       string
	llmTimeout    time.Duration
	maxIterations int
	historyLimit  int
	sessionID     string
	recorder      Recorder
	log           *slog.Logger

	memory *Memory
	// lock 保证同一时刻只有一轮对话在运行。
	lock *semaphore.Weighted
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithPersona 设置长期指令，空字符串保留内置人设。
func WithPersona(persona string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(persona) != "" {
			a.persona = persona
		}
	}
}

// WithLLMTimeout 设置单次调用决策模型的超时时间，<= 0 表示不限制。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithMaxIterations 设置一轮对话内最多调用决策模型的次数。
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithHistoryLimit 设置会话记忆保留的轮数，0 表示不限制。
func WithHistoryLimit(turns int) Option {
	return func(a *Agent) {
		if turns >= 0 {
			a.historyLimit = turns
		}
	}
}

// WithSessionID 覆盖会话标识。
func WithSessionID(id string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(id) != "" {
			a.sessionID = id
		}
	}
}

// WithRecorder 配置对话记录仓库。
func WithRecorder(recorder Recorder) Option {
	return func(a *Agent) {
		a.recorder = recorder
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// New 创建一个 Agent。
func New(oracle llm.Oracle, actions Actions, opts ...Option) *Agent {
	ag := &Agent{
		oracle:        oracle,
		actions:       actions,
		persona:       DefaultPersona,
		maxIterations: defaultMaxIterations,
		sessionID:     DefaultSessionID,
		log:           logger.Component("agent"),
		lock:          semaphore.NewWeighted(1),
	}
	// 应用可选配置。
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	ag.memory = NewMemory(ag.historyLimit)
	return ag
}

// SessionID 返回当前会话标识。
func (a *Agent) SessionID() string {
	return a.sessionID
}

// Memory 返回会话记忆。
func (a *Agent) Memory() *Memory {
	return a.memory
}

// Restore 从对话记录中恢复最近的会话，返回恢复的轮数。
func (a *Agent) Restore(ctx context.Context) (int, error) {
	if a.recorder == nil {
		return 0, nil
	}
	limit := a.historyLimit
	if limit <= 0 {
		limit = defaultRestoreTurns
	}
	turns, err := a.recorder.Recent(ctx, a.sessionID, limit)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "恢复对话记录失败")
	}
	restored := 0
	for _, turn := range turns {
		if !turn.Restorable() {
			continue
		}
		a.memory.Append(turn.Messages)
		restored++
	}
	if restored > 0 {
		a.log.Info("restored conversation", slog.String("session", a.sessionID), slog.Int("turns", restored))
	}
	return restored, nil
}

// Turn 是一轮正在运行的对话。调用方必须读完 Events 直到其关闭，然后调用 Wait。
type Turn struct {
	ID     string
	Prompt string

	events chan stream.Event
	done   chan struct{}
	err    error
}

// Events 返回本轮产生的事件，本轮结束后关闭。
func (t *Turn) Events() <-chan stream.Event {
	return t.events
}

// Done 在本轮结束后关闭。
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait 阻塞直到本轮结束并返回其错误。
func (t *Turn) Wait() error {
	<-t.done
	return t.err
}

// Stream 启动一轮对话并立即返回。
func (a *Agent) Stream(ctx context.Context, message string) *Turn {
	turn := &Turn{
		ID:     uuid.NewString(),
		Prompt: message,
		events: make(chan stream.Event),
		done:   make(chan struct{}),
	}
	go func() {
		err := a.run(ctx, turn)
		turn.err = err
		close(turn.events)
		close(turn.done)
	}()
	return turn
}

// Run 运行一轮对话并把输出写入 sink，返回写出的块数。
func (a *Agent) Run(ctx context.Context, message string, sink stream.Sink) (int, error) {
	turn := a.Stream(ctx, message)
	n, drainErr := stream.Drain(ctx, turn.Events(), sink)
	if err := turn.Wait(); err != nil {
		return n, err
	}
	return n, drainErr
}

// turnState 汇总一轮对话内的消息与统计。
type turnState struct {
	turn     *Turn
	started  time.Time
	messages []llm.Message
	actions  int
}

func (a *Agent) run(ctx context.Context, turn *Turn) error {
	// 验证必要的组件是否已配置。
	if a.oracle == nil || a.actions == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "Agent not initialized")
	}

	// 等待上一轮结束。
	if err := a.lock.Acquire(ctx, 1); err != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "等待上一轮对话结束时被取消")
	}
	defer a.lock.Release(1)

	state := &turnState{
		turn:     turn,
		started:  time.Now(),
		messages: []llm.Message{{Role: llm.RoleUser, Content: turn.Prompt}},
	}
	log := a.log.With(slog.String("turn_id", turn.ID))
	if principal, ok := PrincipalAddress(turn.Prompt); ok {
		log = log.With(slog.String("principal", principal))
	}
	history := a.memory.Messages()
	tools := a.actions.Specs()

	for i := 0; i < a.maxIterations; i++ {
		// 调用决策模型获取下一步。
		conversation := make([]llm.Message, 0, len(history)+len(state.messages))
		conversation = append(conversation, history...)
		conversation = append(conversation, state.messages...)
		decision, err := a.decide(ctx, conversation, tools)
		if err != nil {
			return a.fail(ctx, log, state, err)
		}

		calls := normalizeCalls(decision.Calls)
		state.messages = append(state.messages, llm.Message{
			Role:    llm.RoleAssistant,
			Content: decision.Content,
			Calls:   calls,
		})
		if decision.Content != "" {
			if err := a.emit(ctx, turn, stream.Event{Kind: stream.KindAgent, Text: decision.Content}); err != nil {
				return a.fail(ctx, log, state, err)
			}
		}
		if len(calls) == 0 {
			a.commit(ctx, log, state, transcript.OutcomeCompleted, nil)
			return nil
		}

		// 依次执行模型请求的动作，结果作为工具消息反馈给模型。
		// 已开始的动作不随请求取消，回执等待由 receipt_timeout 约束；取消后不再开始新的动作。
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return a.fail(ctx, log, state, xerrors.Wrap(xerrors.CodeTimeout, err, "对话在执行动作前被取消"))
			}
			result := a.actions.Invoke(context.WithoutCancel(ctx), action.Request{ID: call.ID, Operation: call.Name, Arguments: call.Arguments})
			state.actions++
			state.messages = append(state.messages, llm.Message{
				Role:    llm.RoleTool,
				Content: result.Payload,
				CallID:  call.ID,
				Name:    call.Name,
			})
			if err := a.emit(ctx, turn, stream.Event{Kind: stream.KindTools, Text: result.Payload, Operation: call.Name}); err != nil {
				return a.fail(ctx, log, state, err)
			}
		}
	}

	// 超过上限：通知前端并保留已执行的动作记录。
	state.messages = append(state.messages, llm.Message{Role: llm.RoleAssistant, Content: AbortNotice})
	if err := a.emit(ctx, turn, stream.Event{Kind: stream.KindAgent, Text: AbortNotice}); err != nil {
		return a.fail(ctx, log, state, err)
	}
	a.commit(ctx, log, state, transcript.OutcomeAborted, ErrTurnAborted)
	return ErrTurnAborted
}

func (a *Agent) decide(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Decision, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	decision, err := a.oracle.Decide(llmCtx, llm.Request{System: a.persona, Messages: messages, Tools: tools})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "决策模型调用超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeOracleFailure, err, "决策模型调用失败")
	}
	if decision == nil {
		return nil, xerrors.New(xerrors.CodeOracleFailure, "决策模型没有返回结果")
	}
	return decision, nil
}

func (a *Agent) emit(ctx context.Context, turn *Turn, ev stream.Event) error {
	ev.At = time.Now()
	select {
	case turn.events <- ev:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "对话在输出过程中被取消")
	}
}

// fail 记录失败结果。已执行的动作及其结果仍写入记忆，未执行的调用被丢弃。
func (a *Agent) fail(ctx context.Context, log *slog.Logger, state *turnState, err error) error {
	a.commit(ctx, log, state, transcript.OutcomeFailed, err)
	return err
}

func (a *Agent) commit(ctx context.Context, log *slog.Logger, state *turnState, outcome transcript.Outcome, turnErr error) {
	elapsed := time.Since(state.started)
	metrics.ObserveTurn(string(outcome), elapsed)

	messages := state.messages
	if outcome == transcript.OutcomeFailed {
		if state.actions > 0 {
			messages = settled(state.messages)
		} else {
			messages = state.messages[:1]
		}
	}
	if outcome != transcript.OutcomeFailed || state.actions > 0 {
		a.memory.Append(messages)
	}

	attrs := []any{
		slog.String("outcome", string(outcome)),
		slog.Int("actions", state.actions),
		slog.Duration("elapsed", elapsed),
	}
	if turnErr != nil {
		attrs = append(attrs, slog.String("code", string(xerrors.CodeOf(turnErr))), slog.Any("error", turnErr))
		log.Warn("turn finished", attrs...)
	} else {
		log.Info("turn finished", attrs...)
	}

	if a.recorder == nil {
		return
	}
	record := transcript.Turn{
		ID:          state.turn.ID,
		SessionID:   a.sessionID,
		Prompt:      state.turn.Prompt,
		Messages:    messages,
		Outcome:     outcome,
		StartedAt:   state.started.UTC(),
		CompletedAt: time.Now().UTC(),
	}
	if turnErr != nil {
		record.Error = turnErr.Error()
	}

	// 即使请求已取消也要落库。
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := a.recorder.Append(recordCtx, record); err != nil {
		log.Warn("record turn failed",
			slog.String("code", string(xerrors.CodeStorageFailure)),
			slog.Any("error", err))
	}
}

// settled 截取到最后一条工具结果为止，并去掉没有结果对应的调用。
func settled(messages []llm.Message) []llm.Message {
	answered := make(map[string]bool)
	last := 0
	for i, m := range messages {
		if m.Role == llm.RoleTool {
			answered[m.CallID] = true
			last = i
		}
	}
	out := make([]llm.Message, 0, last+1)
	for _, m := range messages[:last+1] {
		if len(m.Calls) > 0 {
			calls := make([]llm.ToolCall, 0, len(m.Calls))
			for _, call := range m.Calls {
				if answered[call.ID] {
					calls = append(calls, call)
				}
			}
			if len(calls) == 0 && m.Content == "" {
				continue
			}
			if len(calls) == 0 {
				calls = nil
			}
			m.Calls = calls
		}
		out = append(out, m)
	}
	return out
}

// normalizeCalls 为缺少 ID 的调用补齐 ID，保证工具消息能与调用对应。
func normalizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		out[i] = call
	}
	return out
}
