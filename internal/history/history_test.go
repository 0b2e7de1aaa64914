package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rryowa/sessiond/internal/history"
	"github.com/rryowa/sessiond/internal/models"
	"github.com/rryowa/sessiond/internal/storage/memory"
)

func TestAppendEntriesClear(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	kv := memory.NewStore(log)
	t.Cleanup(func() { _ = kv.Close() })

	s := history.NewStore(kv, log)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)

	first := models.HistoryEntry{ID: "h1", Prompt: "p1", CreatedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, models.HistoryEntry{ID: "h2", Prompt: "p2"}))

	entries, err = s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, first, entries[0])

	require.NoError(t, s.Clear(ctx))

	entries, err = s.Entries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}
