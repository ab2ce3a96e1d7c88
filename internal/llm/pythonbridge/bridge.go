package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"AgneticGOD/internal/llm"
)

// Client 通过调用外部脚本完成决策，便于离线演示。
// 脚本从 stdin 读取 JSON 请求，并在 stdout 输出 {content, calls}。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

var _ llm.Oracle = (*Client)(nil)

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Decide 调用外部脚本，并解析输出。
func (c *Client) Decide(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	tools := make([]tool, 0, len(req.Tools))
	for _, spec := range req.Tools {
		tools = append(tools, tool{Name: spec.Name, Description: spec.Description, Parameters: spec.JSONSchema()})
	}
	payload := map[string]any{
		"system":    req.System,
		"messages":  req.Messages,
		"tools":     tools,
		"timestamp": time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行 Python 脚本失败: %w, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var decision llm.Decision
	if err := json.Unmarshal(stdout.Bytes(), &decision); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}
	decision.Content = strings.TrimSpace(decision.Content)
	return &decision, nil
}
