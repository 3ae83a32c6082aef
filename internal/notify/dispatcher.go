package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/2beens/sitegate/internal/telemetry/metrics"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultQueueSize            = 100
	DefaultWorkers              = 2
	DefaultBroadcastConcurrency = 4
	DefaultSendTimeout          = 30 * time.Second
	DefaultTimeoutEscalation    = 3
)

type DispatcherParams struct {
	Transport Transport
	Metrics   *metrics.Manager

	QueueSize            int
	Workers              int
	BroadcastConcurrency int
	SendTimeout          time.Duration
	// consecutive send timeouts in a broadcast after which it is aborted like a transport failure
	TimeoutEscalation int
	JobRetention      int

	SiteURL     string
	SenderName  string
	SenderEmail string
}

type task func(ctx context.Context)

// Dispatcher sends emails on its own workers, never on the request goroutine.
// Jobs are kept in memory only and are gone after a restart.
type Dispatcher struct {
	transport Transport
	renderer  *Renderer
	metrics   *metrics.Manager
	jobs      *jobLog

	queueSize            int
	workers              int
	broadcastConcurrency int
	sendTimeout          time.Duration
	timeoutEscalation    int
	senderName           string
	senderEmail          string

	stateMutex sync.RWMutex
	running    bool
	queue      chan task
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	now   func() time.Time
	newID func() string
}

func NewDispatcher(params DispatcherParams) *Dispatcher {
	d := &Dispatcher{
		transport:            params.Transport,
		renderer:             NewRenderer(params.SiteURL, params.SenderName),
		metrics:              params.Metrics,
		jobs:                 newJobLog(params.JobRetention),
		queueSize:            params.QueueSize,
		workers:              params.Workers,
		broadcastConcurrency: params.BroadcastConcurrency,
		sendTimeout:          params.SendTimeout,
		timeoutEscalation:    params.TimeoutEscalation,
		senderName:           params.SenderName,
		senderEmail:          params.SenderEmail,
		now:                  time.Now,
		newID:                uuid.NewString,
	}
	if d.queueSize <= 0 {
		d.queueSize = DefaultQueueSize
	}
	if d.workers <= 0 {
		d.workers = DefaultWorkers
	}
	if d.broadcastConcurrency <= 0 {
		d.broadcastConcurrency = DefaultBroadcastConcurrency
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = DefaultSendTimeout
	}
	if d.timeoutEscalation <= 0 {
		d.timeoutEscalation = DefaultTimeoutEscalation
	}
	return d
}

func (d *Dispatcher) Configured() bool {
	return d.transport != nil && d.transport.Configured()
}

// Start launches the workers. Cancelling ctx does not stop them, Shutdown does.
func (d *Dispatcher) Start(ctx context.Context) {
	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()
	if d.running {
		return
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.queue = make(chan task, d.queueSize)
	d.running = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(workCtx, d.queue)
	}
	log.Debugf("email dispatcher: started %d workers, queue size %d", d.workers, d.queueSize)
}

func (d *Dispatcher) work(ctx context.Context, queue <-chan task) {
	defer d.wg.Done()
	for t := range queue {
		if d.metrics != nil {
			d.metrics.GaugeEmailQueueDepth.Dec()
		}
		t(ctx)
	}
}

// Shutdown stops accepting work and waits for queued tasks. When ctx expires
// first, in-flight sends are cancelled and the remaining jobs end up failed.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stateMutex.Lock()
	if !d.running {
		d.stateMutex.Unlock()
		return nil
	}
	d.running = false
	close(d.queue)
	cancel := d.cancel
	d.stateMutex.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		log.Debugln("email dispatcher: drained and stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		log.Warnln("email dispatcher: shutdown deadline hit, pending sends aborted")
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(t task) error {
	d.stateMutex.RLock()
	defer d.stateMutex.RUnlock()
	if !d.running {
		return ErrDispatcherStopped
	}
	// counted before the send, a worker may pick the task up right away
	if d.metrics != nil {
		d.metrics.GaugeEmailQueueDepth.Inc()
	}
	select {
	case d.queue <- t:
		return nil
	default:
		if d.metrics != nil {
			d.metrics.GaugeEmailQueueDepth.Dec()
		}
		return ErrQueueFull
	}
}

func (d *Dispatcher) Job(id string) (EmailJob, bool) {
	return d.jobs.job(id)
}

func (d *Dispatcher) Batch(id string) (Batch, bool) {
	return d.jobs.batch(id)
}

func (d *Dispatcher) newJob(category Category, batchID string, to Recipient, email renderedEmail, replyTo string) EmailJob {
	return EmailJob{
		ID:        d.newID(),
		BatchID:   batchID,
		Category:  category,
		To:        to,
		Subject:   email.Subject,
		HTMLBody:  email.HTMLBody,
		TextBody:  email.TextBody,
		ReplyTo:   replyTo,
		CreatedAt: d.now(),
		Status:    StatusPending,
	}
}

// finish records the terminal state of a job; err == nil means sent.
func (d *Dispatcher) finish(job EmailJob, err error, attempted bool) EmailJob {
	status, failure := StatusSent, ""
	if err != nil {
		status, failure = StatusFailed, err.Error()
	}

	finished, ok := d.jobs.finishJob(job.ID, status, failure, attempted, d.now())
	if !ok {
		// evicted from the log already
		finished = job
		finished.Status = status
		finished.Failure = failure
	}
	if job.BatchID != "" {
		d.jobs.recordBatchResult(job.BatchID, job.To.Email, status)
	}
	if d.metrics != nil {
		d.metrics.CounterEmails.WithLabelValues(string(job.Category), string(status)).Inc()
	}
	return finished
}

func abortedErr(ctx context.Context) error {
	return fmt.Errorf("aborted: %w", context.Cause(ctx))
}

// deliver makes exactly one attempt and records its outcome.
func (d *Dispatcher) deliver(ctx context.Context, job EmailJob) error {
	if ctx.Err() != nil {
		d.finish(job, abortedErr(ctx), false)
		return ctx.Err()
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := time.Now()
	err := d.transport.Send(sendCtx, job.message())
	if d.metrics != nil {
		d.metrics.HistEmailSendDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil && ctx.Err() != nil && !IsTransportFailure(err) {
		// cancelled from outside mid-send, not the recipient's fault
		d.finish(job, abortedErr(ctx), true)
		return ctx.Err()
	}

	err = classify(job.To.Email, err)
	d.finish(job, err, true)
	if err != nil {
		log.Warnf("email dispatcher: %s email %s: %s", job.Category, job.ID, err)
		return err
	}

	log.Debugf("email dispatcher: %s email %s sent", job.Category, job.ID)
	return nil
}

// SendReply queues a contact reply and returns at once with the pending job.
// With no transport configured the job is recorded failed and
// ErrTransportUnconfigured is returned for the caller to show as a warning.
func (d *Dispatcher) SendReply(msg ReplyMessage) (EmailJob, error) {
	email, err := d.renderer.Reply(msg)
	if err != nil {
		return EmailJob{}, err
	}

	replyTo := orDefault(msg.SenderEmail, d.senderEmail)
	job, err := d.submit(d.newJob(CategoryReply, "", msg.To, email, replyTo))
	if err != nil {
		return job, err
	}

	if msg.SendCopy && replyTo != "" {
		copyMsg := msg
		copyMsg.To = Recipient{
			Email: replyTo,
			Name:  orDefault(msg.SenderName, d.senderName),
		}
		copyMsg.Body = fmt.Sprintf("[Copy of reply sent to %s]\n\n%s", orDefault(msg.To.Name, msg.To.Email), msg.Body)

		copyEmail, err := d.renderer.Reply(copyMsg)
		if err != nil {
			log.Warnf("email dispatcher: render reply copy: %s", err)
		} else if _, err := d.submit(d.newJob(CategoryReply, "", copyMsg.To, copyEmail, replyTo)); err != nil {
			log.Warnf("email dispatcher: queue reply copy: %s", err)
		}
	}

	return job, nil
}

// SendTest queues a test email to the given address. Like SendReply it
// returns the pending job, or the failed one with ErrTransportUnconfigured.
func (d *Dispatcher) SendTest(to Recipient) (EmailJob, error) {
	email, err := d.renderer.Test()
	if err != nil {
		return EmailJob{}, err
	}
	return d.submit(d.newJob(CategoryTest, "", to, email, d.senderEmail))
}

func (d *Dispatcher) submit(job EmailJob) (EmailJob, error) {
	d.jobs.putJob(job)

	if !d.Configured() {
		return d.finish(job, ErrTransportUnconfigured, false), ErrTransportUnconfigured
	}

	if err := d.enqueue(func(ctx context.Context) {
		_ = d.deliver(ctx, job)
	}); err != nil {
		return d.finish(job, err, false), err
	}

	return job, nil
}

// SendBroadcast notifies the given subscribers about a new post. The list is
// taken as is at call time; the call returns before anything is sent.
// One recipient failing never affects the others, a transport failure aborts
// the rest of the batch.
func (d *Dispatcher) SendBroadcast(post Post, subscribers []Subscriber) (Batch, error) {
	email := func(sub Subscriber) (renderedEmail, error) {
		return d.renderer.Newsletter(post, sub)
	}

	batch := Batch{
		ID:        d.newID(),
		Category:  CategoryNewsletter,
		Subject:   "New Post: " + post.Title,
		CreatedAt: d.now(),
		SentTo:    []string{},
		FailedTo:  []string{},
	}

	seen := make(map[string]bool, len(subscribers))
	jobs := make([]EmailJob, 0, len(subscribers))
	for _, sub := range subscribers {
		addr := strings.TrimSpace(sub.Email)
		key := strings.ToLower(addr)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		rendered, err := email(Subscriber{Email: addr, Name: sub.Name})
		if err != nil {
			return Batch{}, err
		}
		jobs = append(jobs, d.newJob(CategoryNewsletter, batch.ID, Recipient{Email: addr, Name: sub.Name}, rendered, d.senderEmail))
	}
	batch.Total = len(jobs)

	d.jobs.putBatch(batch)
	for _, job := range jobs {
		d.jobs.putJob(job)
	}

	if len(jobs) == 0 {
		finished, _ := d.jobs.finishBatch(batch.ID, "", d.now())
		return finished, nil
	}

	if !d.Configured() {
		return d.abortBatch(batch.ID, jobs, ErrTransportUnconfigured), ErrTransportUnconfigured
	}

	if err := d.enqueue(func(ctx context.Context) {
		d.runBroadcast(ctx, batch.ID, jobs)
	}); err != nil {
		return d.abortBatch(batch.ID, jobs, err), err
	}

	queued, _ := d.jobs.batch(batch.ID)
	return queued, nil
}

func (d *Dispatcher) abortBatch(batchID string, jobs []EmailJob, reason error) Batch {
	for _, job := range jobs {
		d.finish(job, fmt.Errorf("aborted: %w", reason), false)
	}
	if d.metrics != nil {
		d.metrics.CounterBroadcastsAborted.Inc()
	}
	finished, _ := d.jobs.finishBatch(batchID, reason.Error(), d.now())
	return finished
}

type timeoutStreak struct {
	mutex sync.Mutex
	count int
}

func (s *timeoutStreak) inc() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.count++
	return s.count
}

func (s *timeoutStreak) reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.count = 0
}

func (d *Dispatcher) runBroadcast(ctx context.Context, batchID string, jobs []EmailJob) {
	log.Infof("email dispatcher: newsletter batch %s started, %d recipients", batchID, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.broadcastConcurrency)

	var streak timeoutStreak
	for i, job := range jobs {
		if gctx.Err() != nil {
			for _, rest := range jobs[i:] {
				d.finish(rest, abortedErr(gctx), false)
			}
			break
		}

		g.Go(func() error {
			err := d.deliver(gctx, job)
			var deliveryErr *DeliveryError
			switch {
			case err == nil:
				streak.reset()
			case IsTransportFailure(err):
				// stops everyone else, nobody will get through
				return err
			case errors.As(err, &deliveryErr) && deliveryErr.Timeout:
				if n := streak.inc(); n >= d.timeoutEscalation {
					return &TransportError{Err: fmt.Errorf("%d consecutive send timeouts", n)}
				}
			case errors.As(err, &deliveryErr):
				streak.reset()
			}
			return nil
		})
	}

	abortReason := ""
	if err := g.Wait(); err != nil {
		abortReason = err.Error()
	} else if ctx.Err() != nil {
		abortReason = "dispatcher shut down"
	}
	if abortReason != "" {
		log.Errorf("email dispatcher: newsletter batch %s aborted: %s", batchID, abortReason)
		if d.metrics != nil {
			d.metrics.CounterBroadcastsAborted.Inc()
		}
	}

	finished, _ := d.jobs.finishBatch(batchID, abortReason, d.now())
	log.Infof("email dispatcher: newsletter batch %s done, sent %d, failed %d", batchID, finished.Sent, finished.Failed)
}
