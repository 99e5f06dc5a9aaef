package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/logger"
)

// TxRecordRepo is the durable side of the journal (Postgres or SQLite).
type TxRecordRepo interface {
	SaveTxRecord(ctx context.Context, rec model.TxRecord) error
	ListTxRecords(ctx context.Context, limit int) ([]model.TxRecord, error)
}

// Journal 交易状态流水：异步写 JSONL 文件 + 可选数据库
// Record never blocks the submitter; a full queue drops the entry with a warning.
type Journal struct {
	logChan chan model.TxRecord
	logFile *os.File
	buffer  *journalBuffer
	repo    TxRecordRepo
	log     *slog.Logger
	done    chan struct{}
	once    sync.Once
}

// NewJournal opens a daily JSONL file under logDir. An empty logDir keeps
// the journal in memory (plus repo, when set).
func NewJournal(logDir string, repo TxRecordRepo) (*Journal, error) {
	j := &Journal{
		logChan: make(chan model.TxRecord, 1000),
		buffer:  newJournalBuffer(1000),
		repo:    repo,
		log:     logger.Component("journal"),
		done:    make(chan struct{}),
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}
		filename := filepath.Join(logDir, "tx-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		j.logFile = f
	}

	go j.process()
	return j, nil
}

func (j *Journal) Record(rec model.TxRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	j.buffer.Add(rec)
	select {
	case j.logChan <- rec:
	default:
		j.log.Warn("Tx journal buffer full, dropping entry", "id", rec.ID, "state", string(rec.State))
	}
}

// List prefers the durable repo and falls back to the in-memory ring.
func (j *Journal) List(ctx context.Context, limit int) ([]model.TxRecord, error) {
	if j.repo != nil {
		records, err := j.repo.ListTxRecords(ctx, limit)
		if err == nil {
			return records, nil
		}
		j.log.Warn("Tx journal repo list failed, using memory buffer", "error", err)
	}
	return j.buffer.List(limit), nil
}

func (j *Journal) process() {
	defer close(j.done)
	var encoder *json.Encoder
	if j.logFile != nil {
		encoder = json.NewEncoder(j.logFile)
	}
	for rec := range j.logChan {
		if j.repo != nil {
			if err := j.repo.SaveTxRecord(context.Background(), rec); err != nil {
				j.log.Error("Failed to write tx journal to DB", "error", err)
			}
		}
		if encoder != nil {
			if err := encoder.Encode(rec); err != nil {
				j.log.Error("Failed to write tx journal file", "error", err)
			}
		}
	}
}

// Close flushes queued entries and closes the file. Record must not be
// called after Close.
func (j *Journal) Close() {
	j.once.Do(func() {
		close(j.logChan)
		<-j.done
		if j.logFile != nil {
			j.logFile.Close()
		}
	})
}

type journalBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []model.TxRecord
	nextIndex int
}

func newJournalBuffer(maxSize int) *journalBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &journalBuffer{
		maxSize: maxSize,
		records: make([]model.TxRecord, 0, maxSize),
	}
}

func (b *journalBuffer) Add(rec model.TxRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, rec)
		return
	}
	b.records[b.nextIndex] = rec
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List returns newest first.
func (b *journalBuffer) List(limit int) []model.TxRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := len(b.records)
	if limit <= 0 || limit > total {
		limit = total
	}
	results := make([]model.TxRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		results = append(results, b.records[idx])
	}
	return results
}
