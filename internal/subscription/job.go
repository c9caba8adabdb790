package subscription

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/querystream/querystream/internal/protocol"
	"github.com/querystream/querystream/internal/query"
	"github.com/querystream/querystream/internal/snapshot"
	"github.com/querystream/querystream/internal/statement"
)

// bindingSeparator joins sorted key=value pairs into the canonical binding
// key. Unit separator cannot appear in a parameter name.
const bindingSeparator = "\x1f"

// BindingKey returns the canonical representation of a concrete
// parameter-value binding: sorted, lower-cased names with their values.
// Two requests with the same binding key share one job.
func BindingKey(values map[string]string) string {
	pairs := make([]string, 0, len(values))

	for k, v := range values {
		pairs = append(pairs, strings.ToLower(k)+"="+v)
	}

	sort.Strings(pairs)

	return strings.Join(pairs, bindingSeparator)
}

// State describes where a job is in its poll loop.
type State int

const (
	// StateIdle means the job is waiting for its next tick.
	StateIdle State = iota

	// StateRunning means the job is executing its query.
	StateRunning

	// StateNotifying means the job is fanning a result out to subscribers.
	StateNotifying

	// StateStopped is terminal; a stopped job never ticks again.
	StateStopped
)

// String returns a log-friendly state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateNotifying:
		return "notifying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Job is one running poll-execute-notify loop for a concrete parameter
// binding under a statement template. It owns its subscriber set and its
// adaptive interval state; the coordinator owns its registration.
type Job struct {
	id       string
	log      logrus.FieldLogger
	tpl      *statement.Template
	values   map[string]string
	binding  string
	args     []any
	policy   statement.IntervalPolicy
	executor query.Executor
	cache    snapshot.Cache

	mu       sync.Mutex
	subs     map[string]Session
	interval time.Duration
	snapshot []byte
	state    State
	done     chan struct{}
	wg       sync.WaitGroup

	// onEmpty is called (without job lock held) after the last subscriber
	// detaches; the coordinator uses it to unregister the job.
	onEmpty func(*Job)

	// onEvict is called when a subscriber is dropped mid-fanout after a
	// transport send failure.
	onEvict func(jobID, sessionID string)
}

func newJob(
	log logrus.FieldLogger,
	tpl *statement.Template,
	values map[string]string,
	executor query.Executor,
	cache snapshot.Cache,
	onEmpty func(*Job),
	onEvict func(jobID, sessionID string),
) (*Job, error) {
	args, err := tpl.BindArgs(values)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()

	stored := make(map[string]string, len(values))
	for k, v := range values {
		stored[strings.ToLower(k)] = v
	}

	return &Job{
		id: id,
		log: log.WithFields(logrus.Fields{
			"component": "job",
			"statement": tpl.Name(),
			"job_id":    id,
		}),
		tpl:      tpl,
		values:   stored,
		binding:  BindingKey(values),
		args:     args,
		policy:   tpl.Policy(),
		executor: executor,
		cache:    cache,
		subs:     make(map[string]Session),
		interval: tpl.Policy().Base,
		state:    StateIdle,
		done:     make(chan struct{}),
		onEmpty:  onEmpty,
		onEvict:  onEvict,
	}, nil
}

// ID returns the job's unique identifier.
func (j *Job) ID() string {
	return j.id
}

// Binding returns the canonical binding key.
func (j *Job) Binding() string {
	return j.binding
}

// Template returns the owning statement template.
func (j *Job) Template() *statement.Template {
	return j.tpl
}

// Values returns a copy of the concrete parameter binding.
func (j *Job) Values() map[string]string {
	out := make(map[string]string, len(j.values))
	for k, v := range j.values {
		out[k] = v
	}

	return out
}

// Interval returns the current effective polling interval.
func (j *Job) Interval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.interval
}

// Snapshot returns a copy of the last successful serialized result, or nil
// when no poll has succeeded yet.
func (j *Job) Snapshot() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.snapshot == nil {
		return nil
	}

	out := make([]byte, len(j.snapshot))
	copy(out, j.snapshot)

	return out
}

// SubscriberCount returns the size of the current subscriber set.
func (j *Job) SubscriberCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return len(j.subs)
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

// Wait blocks until the job's poll loop has exited.
func (j *Job) Wait() {
	j.wg.Wait()
}

// attach adds a subscriber and resets the interval to base. Returns false
// when the job has already stopped, in which case the caller must create a
// replacement job.
func (j *Job) attach(sessionID string, sess Session) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == StateStopped {
		return false
	}

	j.subs[sessionID] = sess
	j.interval = j.policy.Base

	return true
}

// detach removes a subscriber. When the set becomes empty the job stops
// immediately; no tick can deliver past this point.
func (j *Job) detach(sessionID string) (removed, becameEmpty bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.subs[sessionID]; !ok {
		return false, false
	}

	delete(j.subs, sessionID)

	if len(j.subs) == 0 && j.state != StateStopped {
		j.state = StateStopped
		close(j.done)

		return true, true
	}

	return true, false
}

// stop halts the poll loop regardless of remaining subscribers. Used at
// service shutdown.
func (j *Job) stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateStopped {
		j.state = StateStopped
		close(j.done)
	}
}

// start launches the poll loop.
func (j *Job) start(ctx context.Context) {
	j.wg.Add(1)

	go j.run(ctx)
}

func (j *Job) run(ctx context.Context) {
	defer j.wg.Done()

	j.log.WithFields(logrus.Fields{
		"binding":  j.binding,
		"interval": j.Interval().String(),
	}).Info("Job started")

	timer := time.NewTimer(j.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Debug("Job stopping: context cancelled")

			return
		case <-j.done:
			j.log.Debug("Job stopping: no subscribers")

			return
		case <-timer.C:
			j.poll(ctx)
			timer.Reset(j.Interval())
		}
	}
}

// poll executes one tick: run the query, adjust the interval, fan out.
func (j *Job) poll(ctx context.Context) {
	j.setState(StateRunning)
	defer j.setState(StateIdle)

	rows, err := j.executor.Execute(ctx, j.tpl.SQL(), j.args)
	if err != nil {
		jobTicksTotal.WithLabelValues("error").Inc()

		j.log.WithError(err).Error("Query execution failed, retaining previous snapshot")

		// Report the failure to subscribers; the previous snapshot stays
		// servable and the next tick retries at the unchanged interval.
		if payload, encErr := protocol.EncodeStatus(protocol.StatusInternalError, j.values); encErr == nil {
			j.fanout(payload)
		}

		return
	}

	payload, err := protocol.EncodeRows(rows)
	if err != nil {
		jobTicksTotal.WithLabelValues("error").Inc()

		j.log.WithError(err).Error("Failed to serialize result")

		return
	}

	jobTicksTotal.WithLabelValues("success").Inc()

	changed := j.applyResult(payload)

	if changed {
		if err := j.cache.Put(ctx, j.id, payload); err != nil {
			j.log.WithError(err).Warn("Failed to store snapshot")
		}
	}

	j.fanout(payload)
}

// applyResult stores the snapshot and advances the adaptive interval:
// reset to base when the result changed, otherwise step toward max.
func (j *Job) applyResult(payload []byte) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	changed := !bytes.Equal(payload, j.snapshot)
	j.snapshot = payload

	if changed {
		j.interval = j.policy.Base

		return true
	}

	if j.policy.Adaptive() {
		next := j.interval + j.policy.Step
		if next > j.policy.Max {
			next = j.policy.Max
		}

		j.interval = next
	}

	return false
}

// fanout pushes one payload to every attached subscriber. A send failure
// drops only that subscriber; delivery to the rest continues.
func (j *Job) fanout(payload []byte) {
	type target struct {
		id   string
		sess Session
	}

	j.mu.Lock()

	if j.state == StateStopped || len(j.subs) == 0 {
		j.mu.Unlock()

		return
	}

	j.state = StateNotifying

	targets := make([]target, 0, len(j.subs))
	for id, sess := range j.subs {
		targets = append(targets, target{id: id, sess: sess})
	}

	j.mu.Unlock()

	var failed []target

	for _, t := range targets {
		if err := t.sess.Send(payload); err != nil {
			j.log.WithFields(logrus.Fields{
				"session_id": t.id,
				"error":      err.Error(),
			}).Warn("Send failed, dropping subscriber")

			failed = append(failed, t)

			continue
		}

		notificationsTotal.Inc()
	}

	for _, t := range failed {
		sendFailuresTotal.Inc()

		//nolint:errcheck // the session is already broken.
		t.sess.Close()

		_, becameEmpty := j.detach(t.id)

		if j.onEvict != nil {
			j.onEvict(j.id, t.id)
		}

		if becameEmpty && j.onEmpty != nil {
			j.onEmpty(j)
		}
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Terminal state wins over loop bookkeeping.
	if j.state == StateStopped {
		return
	}

	j.state = s
}
