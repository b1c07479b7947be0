package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dicebot/internal/domain"
)

func TestSQLite_RoundsAndWagers(t *testing.T) {
	rec, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, rec.RecordWager(ctx, "s1", domain.Wager{ID: "w1", RoundID: "r1", Target: "TAI", Amount: 1000, RuleName: "A", PlacedAt: now}))
	require.NoError(t, rec.RecordWager(ctx, "s1", domain.Wager{ID: "w2", RoundID: "r2", Target: "XIU", Amount: 2000, PlacedAt: now}))
	require.NoError(t, rec.RecordWager(ctx, "s2", domain.Wager{ID: "w3", Target: "XIU", Amount: 500, PlacedAt: now}))
	require.NoError(t, rec.RecordRound(ctx, "s1", domain.Outcome{RoundID: "r1", Dice: []int{6, 5, 4}, Sum: 15, Labels: map[string]string{"main": "TAI"}}))
	require.NoError(t, rec.SettleWager(ctx, "w1", true, now))
	require.NoError(t, rec.SettleWager(ctx, "w2", false, now))

	sum, err := rec.Summary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, Summary{Rounds: 1, Wagers: 2, Won: 1, Lost: 1, Staked: 3000}, sum)

	sum, err = rec.Summary(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Wagers)
	assert.Equal(t, 0, sum.Won+sum.Lost)
}

func TestSQLite_DuplicateWager(t *testing.T) {
	rec, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer rec.Close()

	w := domain.Wager{ID: "w1", Target: "TAI", Amount: 1, PlacedAt: time.Now()}
	require.NoError(t, rec.RecordWager(context.Background(), "s", w))
	assert.Error(t, rec.RecordWager(context.Background(), "s", w))
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	assert.NoError(t, r.RecordRound(context.Background(), "s", domain.Outcome{}))
	assert.NoError(t, r.Close())
}
