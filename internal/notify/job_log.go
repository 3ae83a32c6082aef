package notify

import (
	"sync"
	"time"
)

const DefaultJobRetention = 1000

// jobLog keeps the latest jobs and batches in memory, oldest evicted first.
// Nothing survives a restart.
type jobLog struct {
	mutex      sync.Mutex
	retention  int
	jobs       map[string]*EmailJob
	jobOrder   []string
	batches    map[string]*Batch
	batchOrder []string
}

func newJobLog(retention int) *jobLog {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &jobLog{
		retention: retention,
		jobs:      make(map[string]*EmailJob),
		batches:   make(map[string]*Batch),
	}
}

func (l *jobLog) putJob(job EmailJob) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, ok := l.jobs[job.ID]; !ok {
		l.jobOrder = append(l.jobOrder, job.ID)
	}
	l.jobs[job.ID] = &job

	for len(l.jobOrder) > l.retention {
		delete(l.jobs, l.jobOrder[0])
		l.jobOrder = l.jobOrder[1:]
	}
}

// finishJob moves a pending job into its terminal state.
// A job finishes only once, later calls report false.
func (l *jobLog) finishJob(id string, status Status, failure string, attempted bool, finishedAt time.Time) (EmailJob, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	job, ok := l.jobs[id]
	if !ok || job.finished() {
		return EmailJob{}, false
	}
	job.Status = status
	job.Failure = failure
	job.FinishedAt = finishedAt
	if attempted {
		job.Attempts++
	}
	return *job, true
}

// recordBatchResult is kept apart from finishJob since big batches may
// outlive their own evicted jobs.
func (l *jobLog) recordBatchResult(batchID, email string, status Status) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	batch, ok := l.batches[batchID]
	if !ok {
		return
	}
	switch status {
	case StatusSent:
		batch.Sent++
		batch.SentTo = append(batch.SentTo, email)
	case StatusFailed:
		batch.Failed++
		batch.FailedTo = append(batch.FailedTo, email)
	}
}

func (l *jobLog) job(id string) (EmailJob, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return EmailJob{}, false
	}
	return *job, true
}

func (l *jobLog) putBatch(batch Batch) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, ok := l.batches[batch.ID]; !ok {
		l.batchOrder = append(l.batchOrder, batch.ID)
	}
	b := batch.clone()
	l.batches[batch.ID] = &b

	for len(l.batchOrder) > l.retention {
		delete(l.batches, l.batchOrder[0])
		l.batchOrder = l.batchOrder[1:]
	}
}

func (l *jobLog) finishBatch(id string, abortReason string, finishedAt time.Time) (Batch, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	batch, ok := l.batches[id]
	if !ok {
		return Batch{}, false
	}
	if abortReason != "" {
		batch.Aborted = true
		batch.AbortReason = abortReason
	}
	batch.Done = true
	batch.FinishedAt = finishedAt
	return batch.clone(), true
}

func (l *jobLog) batch(id string) (Batch, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	batch, ok := l.batches[id]
	if !ok {
		return Batch{}, false
	}
	return batch.clone(), true
}
