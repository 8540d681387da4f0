package auditor

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ReasonChain/internal/protocol"
	"ReasonChain/internal/reasoning"
)

func sampleRecord(i int) AuditRecord {
	return AuditRecord{
		Reasoning: reasoning.Reasoning{
			Kind:      reasoning.ActionTransfer,
			Rationale: fmt.Sprintf("第 %d 次转账决策", i),
			Risk: reasoning.RiskAssessment{
				Level:   reasoning.RiskMedium,
				Factors: []string{"跨链桥存在延迟"},
			},
			ExpectedOutcome: "资金按计划到账",
		},
		Commitment: protocol.Commitment{
			Hash:    fmt.Sprintf("0x%032d", i),
			Address: fmt.Sprintf("0xaddr%04d", i),
		},
		Reveal:      protocol.Reveal{URI: fmt.Sprintf("https://storage.example.dev/%d", i)},
		ExplorerURL: fmt.Sprintf("https://explorer.example.dev/commitment/0xaddr%04d", i),
		CommittedAt: time.Date(2026, 8, 1, 10, 0, i, 0, time.UTC),
	}
}

func TestFormatReportEmpty(t *testing.T) {
	l := NewSessionLedger("test-agent")
	report := l.FormatReport()
	if !strings.Contains(report, "test-agent") {
		t.Fatalf("报告应包含智能体名称: %s", report)
	}
	if !strings.Contains(report, emptyReportLine) {
		t.Fatalf("空账本应输出固定提示: %s", report)
	}
}

func TestFormatReportOrdering(t *testing.T) {
	l := NewSessionLedger("test-agent")
	for i := 1; i <= 3; i++ {
		l.Append(sampleRecord(i))
	}

	report := l.FormatReport()
	if !strings.Contains(report, "共 3 条审计记录") {
		t.Fatalf("报告应包含记录总数: %s", report)
	}

	first := strings.Index(report, "[1] transfer")
	second := strings.Index(report, "[2] transfer")
	third := strings.Index(report, "[3] transfer")
	if first < 0 || second < 0 || third < 0 {
		t.Fatalf("报告缺少编号区块: %s", report)
	}
	if !(first < second && second < third) {
		t.Fatal("记录区块应按追加顺序排列")
	}

	// 风险等级与风险因素都要出现在区块中
	if !strings.Contains(report, "风险: medium") {
		t.Fatalf("报告应包含风险等级: %s", report)
	}
	if !strings.Contains(report, "跨链桥存在延迟") {
		t.Fatalf("报告应包含风险因素: %s", report)
	}

	// 报告中只展示哈希前缀
	full := sampleRecord(1).Commitment.Hash
	if strings.Contains(report, full) {
		t.Fatal("报告不应包含完整承诺哈希")
	}
	if !strings.Contains(report, full[:12]+"...") {
		t.Fatalf("报告应包含截断后的哈希前缀: %s", report)
	}
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	l := NewSessionLedger("test-agent")
	l.Append(sampleRecord(1))

	snapshot := l.Snapshot()
	snapshot[0].Reasoning.Rationale = "被篡改"
	snapshot[0].Reasoning.Risk.Factors[0] = "被篡改"

	again := l.Snapshot()
	if again[0].Reasoning.Rationale == "被篡改" {
		t.Fatal("修改快照不应影响账本记录")
	}
	if again[0].Reasoning.Risk.Factors[0] == "被篡改" {
		t.Fatal("修改快照切片不应影响账本记录")
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	l := NewSessionLedger("test-agent")
	l.Append(sampleRecord(1))
	l.Append(sampleRecord(2))

	a := l.FormatReport()
	b := l.FormatReport()
	if a != b {
		t.Fatal("账本未变化时报告应逐字相同")
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := NewSessionLedger("test-agent")

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			l.Append(sampleRecord(i))
		}(i)
	}
	wg.Wait()

	if l.Len() != n {
		t.Fatalf("并发追加后记录数不符: got=%d want=%d", l.Len(), n)
	}
}
