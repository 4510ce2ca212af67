// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Runs the store contract and checks file creation and concurrent creation

package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	conv := newConversation("acme", contractEpoch)
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, 1, contractEpoch)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	active, err := reopened.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, conv.ID, active[0].ID)
	assert.Equal(t, 1, active[0].MessageCount)
}

func TestSQLiteStore_ConcurrentCreateAllowsOneActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateConversation(ctx, newConversation("acme", contractEpoch.Add(time.Duration(i)*time.Second)))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrActiveConversationExists)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	active, err := s.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSQLiteStore_TimestampsSortChronologically(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 10, 0, 0, 500, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 10, 0, 1, 0, time.UTC))
	assert.Less(t, a, b)

	parsed, err := parseTime(a)
	require.NoError(t, err)
	assert.Equal(t, 500, parsed.Nanosecond())
}
