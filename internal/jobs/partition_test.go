package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/model"
)

var fixedTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestPartition_StableAndDisjoint(t *testing.T) {
	txns := make([]model.Transaction, 100)
	for i := range txns {
		txns[i] = model.Transaction{ID: fmt.Sprintf("id-%d", i)}
	}

	first := partition(txns, 4)
	second := partition(txns, 4)
	require.Len(t, first, 4)
	assert.Equal(t, first, second)

	owner := make(map[string]int)
	for idx, part := range first {
		for _, txn := range part {
			_, dup := owner[txn.ID]
			assert.False(t, dup, "transaction %s in two partitions", txn.ID)
			owner[txn.ID] = idx
		}
	}
	assert.Len(t, owner, 100)
}

func TestJobStatusSnapshot(t *testing.T) {
	j := newJob("job-1", 3, fixedTime)
	s := j.status()
	assert.Equal(t, StatePending, s.State)
	assert.Equal(t, 3, s.Remaining)
	assert.Nil(t, s.StartedAt)

	j.state.Store(codeRunning)
	j.markStarted(fixedTime)
	j.processed.Add(1)
	j.remaining.Add(-1)
	s = j.status()
	assert.Equal(t, StateRunning, s.State)
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 2, s.Remaining)
	require.NotNil(t, s.StartedAt)

	// Snapshots do not alias the job.
	*s.StartedAt = s.StartedAt.AddDate(1, 0, 0)
	assert.Equal(t, fixedTime, *j.status().StartedAt)
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
}
