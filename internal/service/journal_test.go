package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalWritesJSONLAndRepo(t *testing.T) {
	dir := t.TempDir()
	repo := repository.NewMemoryStore()
	j, err := NewJournal(dir, repo)
	require.NoError(t, err)

	for i, st := range []model.TxState{model.TxBuilding, model.TxSigned, model.TxSubmitted} {
		j.Record(model.TxRecord{ID: "sub-1", Nonce: 4, Attempt: 1, State: st, Hash: fmt.Sprintf("0x%02d", i)})
	}
	j.Close()

	files, err := filepath.Glob(filepath.Join(dir, "tx-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	var states []model.TxState
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec model.TxRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		states = append(states, rec.State)
	}
	assert.Equal(t, []model.TxState{model.TxBuilding, model.TxSigned, model.TxSubmitted}, states)

	list, err := j.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, model.TxSubmitted, list[0].State)
}

type failingRepo struct{}

func (failingRepo) SaveTxRecord(ctx context.Context, rec model.TxRecord) error {
	return errors.New("db down")
}

func (failingRepo) ListTxRecords(ctx context.Context, limit int) ([]model.TxRecord, error) {
	return nil, errors.New("db down")
}

func TestJournalFallsBackToMemory(t *testing.T) {
	j, err := NewJournal("", failingRepo{})
	require.NoError(t, err)
	defer j.Close()

	j.Record(model.TxRecord{ID: "a", State: model.TxBuilding})
	j.Record(model.TxRecord{ID: "a", State: model.TxConfirmed})

	list, err := j.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.TxConfirmed, list[0].State)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestJournalBufferWrapsNewestFirst(t *testing.T) {
	b := newJournalBuffer(3)
	for i := 0; i < 5; i++ {
		b.Add(model.TxRecord{Nonce: uint64(i)})
	}
	list := b.List(0)
	require.Len(t, list, 3)
	assert.Equal(t, []uint64{4, 3, 2}, []uint64{list[0].Nonce, list[1].Nonce, list[2].Nonce})
	assert.Empty(t, newJournalBuffer(3).List(5))
}

func TestJournalCloseIsIdempotent(t *testing.T) {
	j, err := NewJournal("", nil)
	require.NoError(t, err)
	j.Close()
	j.Close()
}
