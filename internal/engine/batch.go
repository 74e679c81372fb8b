package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/payproof/internal/model"
)

// Job is one payment proof submitted in a batch.
type Job struct {
	Name     string
	Image    []byte
	MIMEType string
	Context  ProofContext
}

// BatchResult pairs a job with its decision or error.
type BatchResult struct {
	Err      error
	Decision *model.PaymentDecision
	Name     string
	Index    int
}

// BatchSummary counts batch results by outcome.
type BatchSummary struct {
	Outcomes       map[model.Outcome]int
	Total          int
	Failed         int
	ProcessingTime time.Duration
}

// ProcessBatch runs jobs through a pool of workers. Results are returned in
// job order; progress, if set, is called once per finished job from the
// worker goroutines.
func (e *Engine) ProcessBatch(ctx context.Context, jobs []Job, workers int, progress func(BatchResult)) ([]BatchResult, BatchSummary) {
	start := time.Now()
	if workers <= 0 {
		workers = e.cfg.MaxConcurrentRuns
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	workChan := make(chan int, len(jobs))
	for i := range jobs {
		workChan <- i
	}
	close(workChan)

	results := make([]BatchResult, len(jobs))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range workChan {
				job := jobs[idx]
				res := BatchResult{Index: idx, Name: job.Name}
				if err := ctx.Err(); err != nil {
					res.Err = err
				} else {
					res.Decision, res.Err = e.ProcessPaymentProof(ctx, job.Image, job.MIMEType, job.Context)
				}
				results[idx] = res
				if progress != nil {
					progress(res)
				}
			}
		}()
	}
	wg.Wait()

	summary := BatchSummary{
		Outcomes:       make(map[model.Outcome]int),
		Total:          len(jobs),
		ProcessingTime: time.Since(start),
	}
	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
			continue
		}
		summary.Outcomes[r.Decision.Outcome]++
	}
	return results, summary
}
