package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"yt-audio-ingest/internal/model"
	"yt-audio-ingest/internal/retry"
	"yt-audio-ingest/internal/runstore"
)

const LedgerFileName = "failed_downloads.txt"

const maxDetailLen = 300

var ledgerHeader = []string{
	"# The following items failed to download or convert.",
	"# They are attempted again on the next run; delete this file once verified.",
	"# Item ID | URL | Reason | Attempts | Detail",
}

// FileLedger is the per playlist record of items that ended Failed.
type FileLedger struct {
	path string

	mu      sync.Mutex
	records []model.FailureRecord
}

func OpenFileLedger(path string) (*FileLedger, error) {
	l := &FileLedger{path: path}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, retry.Persistence(fmt.Errorf("open ledger %s: %w", path, err))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if rec, ok := parseLedgerLine(sc.Text()); ok {
			l.records = append(l.records, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, retry.Persistence(fmt.Errorf("read ledger %s: %w", path, err))
	}
	return l, nil
}

func parseLedgerLine(line string) (model.FailureRecord, bool) {
	t := strings.TrimSpace(line)
	if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "-") {
		return model.FailureRecord{}, false
	}
	parts := strings.Split(t, "|")
	if len(parts) < 3 {
		return model.FailureRecord{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" || strings.EqualFold(parts[0], "video id") || strings.EqualFold(parts[0], "item id") {
		return model.FailureRecord{}, false
	}
	rec := model.FailureRecord{ItemID: parts[0], SourceURL: parts[1], Reason: parts[2]}
	if len(parts) > 3 {
		rec.Attempts, _ = strconv.Atoi(parts[3])
	}
	if len(parts) > 4 {
		rec.Detail = strings.Join(parts[4:], " ")
	}
	return rec, true
}

func formatLedgerLine(rec model.FailureRecord) string {
	return strings.Join([]string{
		cleanField(rec.ItemID, 0),
		cleanField(rec.SourceURL, 0),
		cleanField(rec.Reason, 0),
		strconv.Itoa(rec.Attempts),
		cleanField(rec.Detail, maxDetailLen),
	}, " | ")
}

func cleanField(s string, max int) string {
	s = strings.NewReplacer("|", "/", "\r", " ", "\n", " ", "\t", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if max > 0 && utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max])
	}
	return s
}

func (l *FileLedger) Path() string {
	return l.path
}

// Append writes rec as one line. The header is written first when the file
// does not exist yet.
func (l *FileLedger) Append(rec model.FailureRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !runstore.Exists(l.path) {
		body := strings.Join(ledgerHeader, "\n") + "\n"
		if err := runstore.WriteBytes(l.path, []byte(body)); err != nil {
			return retry.Persistence(err)
		}
	}
	if err := runstore.AppendLine(l.path, formatLedgerLine(rec)); err != nil {
		return retry.Persistence(err)
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *FileLedger) Records() []model.FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.FailureRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Compact drops records for archived items, keeps the latest record per
// item and rewrites the file. An empty ledger removes the file.
func (l *FileLedger) Compact(isArchived func(id string) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := latestUnarchived(l.records, isArchived)
	if len(kept) == 0 {
		if err := runstore.RemoveAll(l.path); err != nil {
			return retry.Persistence(err)
		}
		l.records = nil
		return nil
	}

	lines := append([]string{}, ledgerHeader...)
	for _, rec := range kept {
		lines = append(lines, formatLedgerLine(rec))
	}
	if err := runstore.WriteBytes(l.path, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
		return retry.Persistence(err)
	}
	l.records = kept
	return nil
}

func latestUnarchived(records []model.FailureRecord, isArchived func(string) bool) []model.FailureRecord {
	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[rec.ItemID] = i
	}
	kept := make([]model.FailureRecord, 0, len(last))
	for i, rec := range records {
		if last[rec.ItemID] != i {
			continue
		}
		if isArchived != nil && isArchived(rec.ItemID) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// MemoryLedger is an in-process ledger for tests.
type MemoryLedger struct {
	mu      sync.Mutex
	records []model.FailureRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (m *MemoryLedger) Append(rec model.FailureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryLedger) Records() []model.FailureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.FailureRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *MemoryLedger) Compact(isArchived func(id string) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = latestUnarchived(m.records, isArchived)
	return nil
}
