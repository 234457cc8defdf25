// Package workers runs settlement jobs on a bounded pool so many
// independent payments can settle concurrently without unbounded
// goroutine growth.
package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/Acceso-dev/Acceso-x402/internal/utils"
)

// WorkerPool executes queued settlement jobs on a fixed set of workers.
type WorkerPool struct {
	ctx        context.Context
	cancel     context.CancelFunc
	numWorkers int
	jobs       chan func()
	wg         sync.WaitGroup
	logger     *utils.LogsManager
}

// NewWorkerPool creates a worker pool. The queue depth is configurable so a
// burst of settle requests queues instead of blocking HTTP handlers.
func NewWorkerPool(ctx context.Context, numWorkers int, cm *utils.ConfigManager) *WorkerPool {
	poolCtx, cancel := context.WithCancel(ctx)

	queueSize := cm.GetConfigInt("settlement_queue_size", numWorkers*4, 1, 65536)

	return &WorkerPool{
		ctx:        poolCtx,
		cancel:     cancel,
		numWorkers: numWorkers,
		jobs:       make(chan func(), queueSize),
		logger:     utils.NewLogsManager(cm),
	}
}

// Start launches the workers. Each worker recovers from job panics so one
// bad settlement cannot take down its siblings.
func (wp *WorkerPool) Start() {
	wp.logger.Info(fmt.Sprintf("Starting settlement pool with %d workers", wp.numWorkers), "workers")

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case job := <-wp.jobs:
			wp.runJob(id, job)
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) runJob(id int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error(fmt.Sprintf("Worker %d recovered from settlement panic: %v", id, r), "workers")
		}
	}()
	job()
}

// Submit queues a settlement job. Blocks while the queue is full, fails
// once the pool is shutting down.
func (wp *WorkerPool) Submit(job func()) error {
	select {
	case wp.jobs <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Stop drains the workers and waits for in-flight settlements to finish.
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping settlement pool", "workers")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info("Settlement pool stopped", "workers")
	wp.logger.Close()
}
