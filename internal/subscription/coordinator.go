package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/querystream/querystream/internal/query"
	"github.com/querystream/querystream/internal/snapshot"
	"github.com/querystream/querystream/internal/statement"
)

// cacheOpTimeout bounds snapshot cache reads and deletes issued outside a
// poll tick.
const cacheOpTimeout = 5 * time.Second

// templateState is the mutual-exclusion domain for one statement template:
// its lock serializes every find-or-create sequence for that template's
// bindings, so concurrent subscribes for the same binding share one job.
type templateState struct {
	mu   sync.Mutex
	jobs map[string]*Job // binding key -> job
}

// Coordinator implements find-or-create: it locates an existing job for a
// concrete parameter binding or atomically creates one, and owns the
// id-indexed view of every running job.
type Coordinator struct {
	log      logrus.FieldLogger
	executor query.Executor
	cache    snapshot.Cache
	states   map[string]*templateState // signature key -> state

	mu       sync.RWMutex
	jobsByID map[string]*Job

	ctx context.Context

	// evict is invoked when a job drops a subscriber after a send failure,
	// letting the subscriber registry clear the stale back-reference.
	evict func(jobID, sessionID string)
}

// NewCoordinator creates a coordinator covering every template in the
// statement registry.
func NewCoordinator(
	log logrus.FieldLogger,
	statements *statement.Registry,
	executor query.Executor,
	cache snapshot.Cache,
) *Coordinator {
	states := make(map[string]*templateState, statements.Len())

	for _, tpl := range statements.Templates() {
		states[tpl.Signature().Key()] = &templateState{
			jobs: make(map[string]*Job),
		}
	}

	return &Coordinator{
		log:      log.WithField("component", "coordinator"),
		executor: executor,
		cache:    cache,
		states:   states,
		jobsByID: make(map[string]*Job),
	}
}

// Start records the context under which job loops run.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx = ctx

	c.log.WithField("templates", len(c.states)).Info("Coordinator started")

	return nil
}

// Stop halts every running job and waits for their loops to exit.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	jobs := make([]*Job, 0, len(c.jobsByID))

	for _, job := range c.jobsByID {
		jobs = append(jobs, job)
	}

	c.jobsByID = make(map[string]*Job)
	c.mu.Unlock()

	for _, job := range jobs {
		job.stop()
	}

	for _, job := range jobs {
		job.Wait()
	}

	c.log.WithField("jobs", len(jobs)).Info("Coordinator stopped")

	return nil
}

// setEvictHandler wires the subscriber registry's eviction callback.
func (c *Coordinator) setEvictHandler(fn func(jobID, sessionID string)) {
	c.evict = fn
}

// Subscribe attaches a session to the job serving the given binding,
// creating the job when none exists. The whole find-or-create sequence runs
// under the template's lock so racing requests never create duplicates.
func (c *Coordinator) Subscribe(
	tpl *statement.Template,
	values map[string]string,
	sess Session,
) (*Job, error) {
	st, ok := c.states[tpl.Signature().Key()]
	if !ok {
		return nil, fmt.Errorf("statement %q is not registered", tpl.Name())
	}

	binding := BindingKey(values)

	st.mu.Lock()
	defer st.mu.Unlock()

	job := st.jobs[binding]

	// A job that raced into teardown refuses the attach; replace it.
	if job != nil && job.attach(sess.ID(), sess) {
		c.log.WithFields(logrus.Fields{
			"job_id":      job.ID(),
			"session_id":  sess.ID(),
			"subscribers": job.SubscriberCount(),
		}).Debug("Joined existing job")

		return job, nil
	}

	created, err := newJob(c.log, tpl, values, c.executor, c.cache, c.removeJob, c.evictSubscriber)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	st.jobs[binding] = created

	c.mu.Lock()
	c.jobsByID[created.ID()] = created
	c.mu.Unlock()

	created.attach(sess.ID(), sess)
	created.start(c.ctx)

	jobsActive.Inc()

	c.log.WithFields(logrus.Fields{
		"job_id":     created.ID(),
		"statement":  tpl.Name(),
		"binding":    binding,
		"session_id": sess.ID(),
	}).Info("Created job")

	return created, nil
}

// Replay delivers a job's last known result to one session, so a late
// joiner does not wait out the current interval. A job that has not
// completed a successful poll yet has nothing to replay.
func (c *Coordinator) Replay(job *Job, sess Session) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	payload, ok, err := c.cache.Get(ctx, job.ID())
	if err != nil {
		c.log.WithError(err).WithField("job_id", job.ID()).Warn("Failed to read snapshot")

		payload = nil
		ok = false
	}

	if !ok {
		payload = job.Snapshot()
	}

	if len(payload) == 0 {
		return
	}

	if err := sess.Send(payload); err != nil {
		c.log.WithFields(logrus.Fields{
			"job_id":     job.ID(),
			"session_id": sess.ID(),
			"error":      err.Error(),
		}).Warn("Failed to replay snapshot")
	}
}

// Detach removes a session from a job; the job tears down when the set
// becomes empty. Returns false when the job is unknown.
func (c *Coordinator) Detach(jobID, sessionID string) bool {
	c.mu.RLock()
	job := c.jobsByID[jobID]
	c.mu.RUnlock()

	if job == nil {
		return false
	}

	removed, becameEmpty := job.detach(sessionID)

	if becameEmpty {
		c.removeJob(job)
	}

	return removed
}

// JobByID looks a job up in the id index.
func (c *Coordinator) JobByID(jobID string) (*Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	job, ok := c.jobsByID[jobID]

	return job, ok
}

// JobCount returns the number of running jobs.
func (c *Coordinator) JobCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.jobsByID)
}

// removeJob unregisters a stopped job and deletes its snapshot.
func (c *Coordinator) removeJob(job *Job) {
	st := c.states[job.Template().Signature().Key()]

	st.mu.Lock()
	// A replacement job may already occupy the binding slot.
	if st.jobs[job.Binding()] == job {
		delete(st.jobs, job.Binding())
	}
	st.mu.Unlock()

	c.mu.Lock()
	delete(c.jobsByID, job.ID())
	c.mu.Unlock()

	jobsActive.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	if err := c.cache.Delete(ctx, job.ID()); err != nil {
		c.log.WithError(err).WithField("job_id", job.ID()).Warn("Failed to delete snapshot")
	}

	c.log.WithFields(logrus.Fields{
		"job_id":    job.ID(),
		"statement": job.Template().Name(),
	}).Info("Job torn down")
}

func (c *Coordinator) evictSubscriber(jobID, sessionID string) {
	if c.evict != nil {
		c.evict(jobID, sessionID)
	}
}
