package llm

import "context"

// Role 标识对话消息的来源。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是对话中的一条消息。assistant 消息可以携带工具调用，tool 消息
// 通过 CallID 对应到先前的调用。
type Message struct {
	Role    Role       `json:"role"`
	Content string     `json:"content,omitempty"`
	Calls   []ToolCall `json:"calls,omitempty"`
	CallID  string     `json:"call_id,omitempty"`
	Name    string     `json:"name,omitempty"`
}

// ToolCall 描述模型请求执行的一次动作。
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Parameter 描述工具的单个参数。
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ToolSpec 是暴露给模型的工具声明。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// JSONSchema 以 JSON Schema 对象的形式返回参数定义。
func (s ToolSpec) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Parameters))
	required := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Request 是一次决策调用的完整上下文。
type Request struct {
	System   string     `json:"system"`
	Messages []Message  `json:"messages"`
	Tools    []ToolSpec `json:"-"`
}

// Decision 是模型的一步输出。Calls 为空时 Content 即为本回合的最终回复。
type Decision struct {
	Content string     `json:"content"`
	Calls   []ToolCall `json:"calls,omitempty"`
}

// Final 判断该决策是否结束本回合。
func (d *Decision) Final() bool {
	return d == nil || len(d.Calls) == 0
}

// Oracle 定义了决策模型的统一接口。
type Oracle interface {
	Decide(ctx context.Context, req Request) (*Decision, error)
}
