package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileRepository 以 JSON Lines 形式追加写入对话记录，并在内存中保留全部记录。
type FileRepository struct {
	mu    sync.RWMutex
	path  string
	turns []Turn
}

// NewFileRepository 打开（必要时创建）记录文件并加载已有内容。
func NewFileRepository(path string) (*FileRepository, error) {
	if path == "" {
		path = "transcript.jsonl"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建记录目录失败: %w", err)
		}
	}
	repo := &FileRepository{path: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Path 返回记录文件路径。
func (f *FileRepository) Path() string {
	return f.path
}

// Append 以追加写的方式记录一轮对话。
func (f *FileRepository) Append(ctx context.Context, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("序列化对话记录失败: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("打开对话记录失败: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入对话记录失败: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("刷新对话记录失败: %w", err)
	}

	f.turns = append(f.turns, turn)
	return nil
}

// Recent 返回指定会话最近的若干轮对话。
func (f *FileRepository) Recent(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var matched []Turn
	for _, turn := range f.turns {
		if turn.SessionID == sessionID {
			matched = append(matched, turn)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]Turn, len(matched))
	copy(out, matched)
	return out, nil
}

// Close 文件在每次写入后关闭，这里无需额外处理。
func (f *FileRepository) Close() error { return nil }

func (f *FileRepository) loadFromDisk() error {
	file, err := os.OpenFile(f.path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("读取对话记录失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var turn Turn
		// 跳过写入中断产生的残缺行。
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			continue
		}
		f.turns = append(f.turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析对话记录失败: %w", err)
	}
	return nil
}
