package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ReasonChain/internal/auditor"
)

// ArchiveEntry 表示一条落库的审计记录，承诺-揭示证据被展平为列。
type ArchiveEntry struct {
	ID                int64  `json:"id"`
	AgentName         string `json:"agent_name"`
	Kind              string `json:"kind"`
	Rationale         string `json:"rationale"`
	RiskLevel         string `json:"risk_level"`
	Confidence        int    `json:"confidence"`
	ExpectedOutcome   string `json:"expected_outcome"`
	CommitmentHash    string `json:"commitment_hash"`
	CommitmentAddress string `json:"commitment_address"`
	CommitTxRef       string `json:"commit_tx_ref"`
	RevealURI         string `json:"reveal_uri"`
	RevealTxRef       string `json:"reveal_tx_ref"`
	ExplorerURL       string `json:"explorer_url"`
	ResultJSON        string `json:"result_json"`
	CommittedAt       int64  `json:"committed_at"`
	ExecutedAt        int64  `json:"executed_at"`
	RevealedAt        int64  `json:"revealed_at"`
}

// AuditArchive 抽象审计记录的持久化接口。
type AuditArchive interface {
	Append(ctx context.Context, entry *ArchiveEntry) error
	ListLatest(ctx context.Context, limit int) ([]ArchiveEntry, error)
	GetByCommitment(ctx context.Context, commitmentAddress string) (*ArchiveEntry, error)
}

// ErrEntryNotFound 表示按承诺地址未命中任何记录。
var ErrEntryNotFound = errors.New("未找到对应的审计记录")

// EntryFromRecord 将审计记录展平为可落库的归档结构。
func EntryFromRecord(agentName string, record auditor.AuditRecord) (*ArchiveEntry, error) {
	var resultJSON string
	if record.Result != nil {
		encoded, err := json.Marshal(record.Result)
		if err != nil {
			return nil, fmt.Errorf("序列化执行结果失败: %w", err)
		}
		resultJSON = string(encoded)
	}
	return &ArchiveEntry{
		AgentName:         agentName,
		Kind:              string(record.Reasoning.Kind),
		Rationale:         record.Reasoning.Rationale,
		RiskLevel:         string(record.Reasoning.Risk.Level),
		Confidence:        record.Reasoning.Risk.Level.Confidence(),
		ExpectedOutcome:   record.Reasoning.ExpectedOutcome,
		CommitmentHash:    record.Commitment.Hash,
		CommitmentAddress: record.Commitment.Address,
		CommitTxRef:       record.Commitment.TxRef,
		RevealURI:         record.Reveal.URI,
		RevealTxRef:       record.Reveal.TxRef,
		ExplorerURL:       record.ExplorerURL,
		ResultJSON:        resultJSON,
		CommittedAt:       record.CommittedAt.Unix(),
		ExecutedAt:        record.ExecutedAt.Unix(),
		RevealedAt:        record.RevealedAt.Unix(),
	}, nil
}

// JSONLArchive 使用本地 JSONL 文件模拟 MySQL 归档，方便迭代开发。
type JSONLArchive struct {
	mu       sync.RWMutex
	dataFile string
	nextID   int64
	entries  []ArchiveEntry
}

// NewJSONLArchive 创建一个基于追加写文件的审计归档。
func NewJSONLArchive(dataDir string) (*JSONLArchive, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "audit_records.log")
	archive := &JSONLArchive{dataFile: path, nextID: 1}
	if err := archive.loadFromDisk(); err != nil {
		return nil, err
	}
	return archive, nil
}

// Append 以追加写的方式归档一条审计记录。
func (a *JSONLArchive) Append(_ context.Context, entry *ArchiveEntry) error {
	if entry == nil {
		return fmt.Errorf("审计记录不能为空")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	entry.ID = a.nextID

	file, err := os.OpenFile(a.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开归档文件失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化审计记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入归档文件失败: %w", err)
	}

	a.nextID++
	a.entries = append([]ArchiveEntry{*entry}, a.entries...)
	if len(a.entries) > 512 {
		a.entries = a.entries[:512]
	}
	return nil
}

// ListLatest 返回最近的审计记录，按时间倒序排列。
func (a *JSONLArchive) ListLatest(_ context.Context, limit int) ([]ArchiveEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 || limit > len(a.entries) {
		limit = len(a.entries)
	}
	results := make([]ArchiveEntry, limit)
	copy(results, a.entries[:limit])
	return results, nil
}

// GetByCommitment 按承诺地址查找归档记录。
func (a *JSONLArchive) GetByCommitment(_ context.Context, commitmentAddress string) (*ArchiveEntry, error) {
	address := strings.TrimSpace(commitmentAddress)
	if address == "" {
		return nil, fmt.Errorf("承诺地址不能为空")
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	for i := range a.entries {
		if a.entries[i].CommitmentAddress == address {
			entry := a.entries[i]
			return &entry, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (a *JSONLArchive) loadFromDisk() error {
	file, err := os.OpenFile(a.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取归档文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ArchiveEntry
	var maxID int64
	for scanner.Scan() {
		var entry ArchiveEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.ID > maxID {
			maxID = entry.ID
		}
		restored = append([]ArchiveEntry{entry}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析归档文件失败: %w", err)
	}

	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		a.entries = restored
	}
	a.nextID = maxID + 1
	return nil
}

var _ AuditArchive = (*JSONLArchive)(nil)
