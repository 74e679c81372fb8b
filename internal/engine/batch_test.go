package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/recognition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessBatch(t *testing.T) {
	text := recognition.NewMockRecognizer(model.RecognizerText, 0.95, fact("1000", "PHP", "REF123", 0.95))
	h := newHarness(t, text, failing(model.RecognizerVision), Config{}, sub("sub-1", "1000", "REF123"))

	jobs := []Job{
		{Name: "a.png", Image: proofImage(t, 50), MIMEType: "image/png"},
		{Name: "b.png", Image: proofImage(t, 51), MIMEType: "image/png"},
		{Name: "broken.png", Image: []byte("nope"), MIMEType: "image/png"},
		{Name: "a-again.png", Image: proofImage(t, 50), MIMEType: "image/png"},
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	results, summary := h.engine.ProcessBatch(context.Background(), jobs, 2, func(r BatchResult) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Name)
	})

	require.Len(t, results, len(jobs))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, jobs[i].Name, r.Name)
	}
	assert.ElementsMatch(t, []string{"a.png", "b.png", "broken.png", "a-again.png"}, seen)

	assert.Error(t, results[2].Err)
	assert.Nil(t, results[2].Decision)

	require.NoError(t, results[0].Err)
	require.NoError(t, results[3].Err)
	assert.Equal(t, results[0].Decision.ID, results[3].Decision.ID, "same image yields the same decision")

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Outcomes[model.StateAutoApproved]+summary.Outcomes[model.StatePendingReview])
	assert.GreaterOrEqual(t, summary.Outcomes[model.StateAutoApproved], 1)
	assert.Len(t, h.subs.Approvals(), 1)
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	h := newHarness(t, failing(model.RecognizerText), failing(model.RecognizerVision), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, summary := h.engine.ProcessBatch(ctx, []Job{
		{Name: "a.png", Image: proofImage(t, 60), MIMEType: "image/png"},
	}, 0, nil)

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Equal(t, 1, summary.Failed)
}

func TestProcessBatch_Empty(t *testing.T) {
	h := newHarness(t, failing(model.RecognizerText), failing(model.RecognizerVision), Config{})
	results, summary := h.engine.ProcessBatch(context.Background(), nil, 4, nil)
	assert.Empty(t, results)
	assert.Equal(t, 0, summary.Total)
}
