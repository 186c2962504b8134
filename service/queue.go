package service

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// QueueProcessor decouples the HTTP edge from the synchronous core for
// comparison work: requests are queued and picked up by a worker, with a
// per-request result channel. A full queue rejects immediately instead
// of blocking the caller.
type QueueProcessor struct {
	matchingService *MatchingService
	compareCh       chan *CompareJob
	processingWg    sync.WaitGroup
	shutdownCh      chan struct{}
}

// CompareJob is one queued comparison. A single target means Compare;
// multiple targets mean BatchCompare.
type CompareJob struct {
	Requester common.Address
	Targets   []common.Address
	ResultCh  chan<- *CompareResult
}

// CompareResult carries the outcome back to the enqueuer.
type CompareResult struct {
	RequestIDs []string
	Err        error
}

func NewQueueProcessor(matchingService *MatchingService, queueSize int) *QueueProcessor {
	if queueSize < 1 {
		queueSize = 1
	}
	return &QueueProcessor{
		matchingService: matchingService,
		compareCh:       make(chan *CompareJob, queueSize),
		shutdownCh:      make(chan struct{}),
	}
}

// Start begins processing queued comparisons.
func (qp *QueueProcessor) Start() {
	qp.processingWg.Add(1)
	go qp.compareWorker()
}

// Stop drains the worker and shuts the queue down.
func (qp *QueueProcessor) Stop() {
	close(qp.shutdownCh)
	qp.processingWg.Wait()
}

// QueueCompare enqueues a comparison and returns the channel its result
// will arrive on. A full queue fails fast.
func (qp *QueueProcessor) QueueCompare(requester common.Address, targets []common.Address) <-chan *CompareResult {
	resultCh := make(chan *CompareResult, 1)

	job := &CompareJob{
		Requester: requester,
		Targets:   targets,
		ResultCh:  resultCh,
	}

	select {
	case qp.compareCh <- job:
	default:
		resultCh <- &CompareResult{Err: ErrQueueFull}
		close(resultCh)
	}

	return resultCh
}

func (qp *QueueProcessor) compareWorker() {
	defer qp.processingWg.Done()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case job := <-qp.compareCh:
			qp.process(job)
		}
	}
}

func (qp *QueueProcessor) process(job *CompareJob) {
	result := &CompareResult{}

	if len(job.Targets) == 1 {
		id, err := qp.matchingService.Compare(job.Requester, job.Targets[0])
		if err == nil {
			result.RequestIDs = []string{id}
		}
		result.Err = err
	} else {
		result.RequestIDs, result.Err = qp.matchingService.BatchCompare(job.Requester, job.Targets)
	}

	job.ResultCh <- result
	close(job.ResultCh)
}
