package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpTextRecognizer, 10*time.Millisecond, false)
	c.RecordTiming(OpTextRecognizer, 30*time.Millisecond, true)
	c.RecordOutcome("AUTO_APPROVED")
	c.RecordOutcome("AUTO_APPROVED")

	snap := c.Snapshot()
	op, ok := snap.Operations[OpTextRecognizer]
	require.True(t, ok)
	assert.Equal(t, int64(2), op.Count)
	assert.Equal(t, int64(1), op.Failures)
	assert.Equal(t, int64(10), op.MinTimeMs)
	assert.Equal(t, int64(30), op.MaxTimeMs)
	assert.InDelta(t, 20.0, op.AvgTimeMs, 0.001)
	assert.Equal(t, int64(2), snap.Outcomes["AUTO_APPROVED"])
	assert.Equal(t, []string{OpTextRecognizer}, snap.OperationNames())
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpRun, time.Second, false)
	c.RecordOutcome("UNMATCHED")
	assert.Empty(t, c.Snapshot().Operations)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpMatch, time.Millisecond, false)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.Snapshot().Operations[OpMatch].Count)
}
