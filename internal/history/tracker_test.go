package history

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/dicebot/internal/domain"
)

func outcome(label string) domain.Outcome {
	return domain.Outcome{Labels: map[string]string{"main": label}}
}

func numbered(n int) domain.Outcome {
	return domain.Outcome{RoundID: strconv.Itoa(n), Labels: map[string]string{"main": strconv.Itoa(n)}}
}

func TestTracker_CapacityEvictsOldest(t *testing.T) {
	tr := NewTracker(DefaultWindow)
	for i := 1; i <= 10; i++ {
		tr.Append(numbered(i))
	}
	require.Equal(t, 10, tr.Len())

	tr.Append(numbered(11))
	require.Equal(t, 10, tr.Len())

	all := tr.All()
	assert.Equal(t, "2", all[0].RoundID, "oldest entry should be evicted")
	assert.Equal(t, "11", all[9].RoundID)
}

func TestTracker_NeverExceedsCapacity(t *testing.T) {
	tr := NewTracker(DefaultWindow)
	for i := 0; i < 250; i++ {
		tr.Append(numbered(i))
		if tr.Len() > DefaultWindow {
			t.Fatalf("len=%d after %d appends", tr.Len(), i+1)
		}
	}
}

func TestTracker_RecentIsMostRecentFirst(t *testing.T) {
	tr := NewTracker(0)
	tr.Append(outcome("TAI"))
	tr.Append(outcome("XIU"))
	tr.Append(outcome("XIU"))

	got := tr.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "XIU", got[0].Label("main"))
	assert.Equal(t, "XIU", got[1].Label("main"))

	got = tr.Recent(5)
	require.Len(t, got, 3, "shorter history returns fewer entries")
	assert.Equal(t, "TAI", got[2].Label("main"))

	assert.Nil(t, tr.Recent(0))
}

func TestTracker_ReplaceKeepsNewest(t *testing.T) {
	tr := NewTracker(3)
	tr.Replace([]domain.Outcome{numbered(1), numbered(2), numbered(3), numbered(4), numbered(5)})
	assert.Equal(t, []string{"3", "4", "5"}, tr.Labels("main"))

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
}
