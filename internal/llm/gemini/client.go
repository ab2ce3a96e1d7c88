package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"AgneticGOD/internal/llm"
)

const defaultModel = "gemini-2.5-flash"

// Config 描述调用 Gemini 所需的参数。
type Config struct {
	APIKey string
	Model  string
	// BaseURL 仅在测试或代理场景下覆盖默认端点。
	BaseURL string
}

// Client 基于 google.golang.org/genai 实现 llm.Oracle。
type Client struct {
	client *genai.Client
	model  string
}

var _ llm.Oracle = (*Client)(nil)

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Decide 将对话转换为 Gemini 内容并解析函数调用。
func (c *Client) Decide(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	config := &genai.GenerateContentConfig{}
	if system := strings.TrimSpace(req.System); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			decls = append(decls, declaration(spec))
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents(req.Messages), config)
	if err != nil {
		return nil, fmt.Errorf("请求 Gemini 失败: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("Gemini 响应中没有候选结果")
	}

	decision := &llm.Decision{}
	var text strings.Builder
	for i, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			decision.Calls = append(decision.Calls, llm.ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	decision.Content = strings.TrimSpace(text.String())
	if decision.Content == "" && len(decision.Calls) == 0 {
		return nil, errors.New("Gemini 响应内容为空")
	}
	return decision, nil
}

func declaration(spec llm.ToolSpec) *genai.FunctionDeclaration {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(spec.Parameters)),
	}
	for _, p := range spec.Parameters {
		schema.Properties[p.Name] = &genai.Schema{
			Type:        schemaType(p.Type),
			Description: p.Description,
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  schema,
	}
}

func schemaType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

// contents 将通用消息映射为 Gemini 的 user/model 轮次。
func contents(messages []llm.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser, llm.RoleSystem:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		case llm.RoleAssistant:
			parts := make([]*genai.Part, 0, len(m.Calls)+1)
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, call := range m.Calls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				}})
			}
			out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case llm.RoleTool:
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.CallID,
					Name:     m.Name,
					Response: map[string]any{"output": m.Content},
				},
			}}})
		}
	}
	return out
}
