package auditor

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SessionLedger 是进程内的只追加审计账本。
// 记录一经追加不可修改，按追加顺序保存，进程退出即丢失；
// 持久化由上层的归档组件负责。
type SessionLedger struct {
	agentName string

	mu      sync.RWMutex
	records []AuditRecord
}

// NewSessionLedger 创建一个空的会话账本。
func NewSessionLedger(agentName string) *SessionLedger {
	return &SessionLedger{agentName: agentName}
}

// Append 向账本追加一条审计记录。
func (l *SessionLedger) Append(record AuditRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
}

// Len 返回当前记录条数。
func (l *SessionLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Snapshot 返回全部记录的防御性副本，调用方可任意修改而不影响账本。
// Result 载荷是任意类型，副本与账本共享同一引用，调用方不应原地修改。
func (l *SessionLedger) Snapshot() []AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]AuditRecord, len(l.records))
	for i, rec := range l.records {
		out[i] = rec
		out[i].Reasoning = rec.Reasoning.Clone()
	}
	return out
}

// emptyReportLine 是账本为空时报告的固定内容。
const emptyReportLine = "暂无已审计的动作记录"

// FormatReport 将账本渲染为人类可读的多行审计报告。
// 每条记录一个区块，顺序与追加顺序一致。
func (l *SessionLedger) FormatReport() string {
	snapshot := l.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "=== 审计报告: %s ===\n", l.agentName)
	if len(snapshot) == 0 {
		b.WriteString(emptyReportLine)
		b.WriteString("\n")
		return b.String()
	}
	fmt.Fprintf(&b, "共 %d 条审计记录\n", len(snapshot))

	for i, rec := range snapshot {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, rec.Reasoning.Kind)
		fmt.Fprintf(&b, "    理由: %s\n", rec.Reasoning.Rationale)
		fmt.Fprintf(&b, "    风险: %s (置信度 %d)\n", rec.Reasoning.Risk.Level, rec.Reasoning.Risk.Level.Confidence())
		if len(rec.Reasoning.Risk.Factors) > 0 {
			fmt.Fprintf(&b, "    风险因素: %s\n", strings.Join(rec.Reasoning.Risk.Factors, "; "))
		}
		if rec.Reasoning.ExpectedOutcome != "" {
			fmt.Fprintf(&b, "    预期: %s\n", rec.Reasoning.ExpectedOutcome)
		}
		fmt.Fprintf(&b, "    承诺: %s\n", truncateHash(rec.Commitment.Hash))
		fmt.Fprintf(&b, "    浏览: %s\n", rec.ExplorerURL)
		fmt.Fprintf(&b, "    时间: %s\n", rec.CommittedAt.Format(time.RFC3339))
	}
	return b.String()
}

// truncateHash 截断承诺哈希，报告中只展示前缀。
func truncateHash(hash string) string {
	const keep = 12
	if len(hash) <= keep {
		return hash
	}
	return hash[:keep] + "..."
}
