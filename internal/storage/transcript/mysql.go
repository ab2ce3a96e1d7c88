package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLRepository 使用 MySQL 保存对话记录。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 建立连接池并执行内嵌的迁移脚本。
func NewSQLRepository(ctx context.Context, cfg MySQLConfig) (*SQLRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("创建 MySQL 连接器失败: %w", err)
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

const insertTurnSQL = `INSERT INTO turns
    (turn_id, session_id, prompt, messages, outcome, error_message, started_at, completed_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const selectTurnColumns = `SELECT turn_id, session_id, prompt, messages, outcome, error_message, started_at, completed_at
    FROM turns WHERE session_id = ?`

// Append 将一轮对话写入 MySQL。
func (s *SQLRepository) Append(ctx context.Context, turn Turn) error {
	messages, err := json.Marshal(turn.Messages)
	if err != nil {
		return fmt.Errorf("序列化对话消息失败: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, insertTurnSQL,
		turn.ID,
		turn.SessionID,
		turn.Prompt,
		string(messages),
		string(turn.Outcome),
		turn.Error,
		turn.StartedAt.UnixMilli(),
		turn.CompletedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// Recent 查询指定会话最近的若干轮对话，按时间正序返回。
func (s *SQLRepository) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, selectTurnColumns+` ORDER BY id DESC LIMIT ?`, sessionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectTurnColumns+` ORDER BY id DESC`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询对话记录失败: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			turn                   Turn
			messages, outcome      string
			startedAt, completedAt int64
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Prompt, &messages, &outcome, &turn.Error, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("解析对话记录失败: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &turn.Messages); err != nil {
			return nil, fmt.Errorf("解析对话消息失败: %w", err)
		}
		turn.Outcome = Outcome(outcome)
		turn.StartedAt = time.UnixMilli(startedAt).UTC()
		turn.CompletedAt = time.UnixMilli(completedAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历对话记录失败: %w", err)
	}

	// 查询按倒序取最新记录，返回前恢复为时间正序。
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
