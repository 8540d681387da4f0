package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// SQLArchive 使用真实的 MySQL 数据库归档审计记录。
type SQLArchive struct {
	db *sql.DB
}

// NewSQLArchive 建立连接池并执行待应用的迁移。
func NewSQLArchive(ctx context.Context, cfg Config) (*SQLArchive, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLArchive{db: db}, nil
}

const archiveColumns = `agent_name, kind, rationale, risk_level, confidence, expected_outcome,
commitment_hash, commitment_address, commit_tx_ref, reveal_uri, reveal_tx_ref,
explorer_url, result_json, committed_at, executed_at, revealed_at`

// Append 将审计记录写入 MySQL。
func (s *SQLArchive) Append(ctx context.Context, entry *ArchiveEntry) error {
	if entry == nil {
		return fmt.Errorf("审计记录不能为空")
	}
	stmt := `INSERT INTO audit_records (` + archiveColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, stmt,
		entry.AgentName,
		entry.Kind,
		entry.Rationale,
		entry.RiskLevel,
		entry.Confidence,
		entry.ExpectedOutcome,
		entry.CommitmentHash,
		entry.CommitmentAddress,
		entry.CommitTxRef,
		entry.RevealURI,
		entry.RevealTxRef,
		entry.ExplorerURL,
		entry.ResultJSON,
		entry.CommittedAt,
		entry.ExecutedAt,
		entry.RevealedAt,
	)
	if err != nil {
		return fmt.Errorf("写入审计归档失败: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListLatest 查询最近的若干条审计记录。
func (s *SQLArchive) ListLatest(ctx context.Context, limit int) ([]ArchiveEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, ` + archiveColumns + ` FROM audit_records ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询审计归档失败: %w", err)
	}
	defer rows.Close()

	var entries []ArchiveEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历审计归档失败: %w", err)
	}
	return entries, nil
}

// GetByCommitment 按承诺地址查找归档记录。
func (s *SQLArchive) GetByCommitment(ctx context.Context, commitmentAddress string) (*ArchiveEntry, error) {
	address := strings.TrimSpace(commitmentAddress)
	if address == "" {
		return nil, fmt.Errorf("承诺地址不能为空")
	}

	query := `SELECT id, ` + archiveColumns + ` FROM audit_records WHERE commitment_address = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, address)
	entry, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// Close 关闭底层数据库连接。
func (s *SQLArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanEntry(scan func(dest ...any) error) (*ArchiveEntry, error) {
	var entry ArchiveEntry
	if err := scan(
		&entry.ID,
		&entry.AgentName,
		&entry.Kind,
		&entry.Rationale,
		&entry.RiskLevel,
		&entry.Confidence,
		&entry.ExpectedOutcome,
		&entry.CommitmentHash,
		&entry.CommitmentAddress,
		&entry.CommitTxRef,
		&entry.RevealURI,
		&entry.RevealTxRef,
		&entry.ExplorerURL,
		&entry.ResultJSON,
		&entry.CommittedAt,
		&entry.ExecutedAt,
		&entry.RevealedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("解析审计归档记录失败: %w", err)
	}
	return &entry, nil
}

var _ AuditArchive = (*SQLArchive)(nil)
