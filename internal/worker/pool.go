package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"whisper-api/internal/service"
)

// Pool claims descriptors from the queue and hands them to executor
// goroutines. Concurrency defaults to 1: whisper.cpp is internally
// multi-threaded, so one job at a time per process bounds peak CPU and
// memory; parallelism comes from running more worker processes.
type Pool struct {
	queue       service.Queue
	processor   *Processor
	concurrency int
	claimDelay  time.Duration
	logger      *slog.Logger
}

func NewPool(queue service.Queue, processor *Processor, concurrency int, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		queue:       queue,
		processor:   processor,
		concurrency: concurrency,
		claimDelay:  5 * time.Second,
		logger:      logger,
	}
}

// Run claims and processes jobs until ctx is cancelled, then waits for
// in-flight work to finish.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", "concurrency", p.concurrency)

	jobCh := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				if err := p.processor.Process(ctx, jobID); err != nil {
					// Store was unreachable before any work happened.
					// Leave the descriptor unacked: the reaper moves it
					// back to the queue for redelivery.
					p.logger.Error("process failed, descriptor left for redelivery",
						"worker", n, "job_id", jobID, "error", err)
					continue
				}

				if ackErr := p.queue.Ack(ctx, jobID); ackErr != nil {
					p.logger.Error("ack failed", "worker", n, "job_id", jobID, "error", ackErr)
				}
			}
		}(i + 1)
	}

	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			p.logger.Info("worker pool stopped")
			return
		default:
			jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
			if err != nil {
				// empty slot or ctx cancel, not fatal
				continue
			}
			select {
			case jobCh <- jobID:
			case <-ctx.Done():
				close(jobCh)
				wg.Wait()
				return
			}
		}
	}
}
