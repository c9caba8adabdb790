package subscription

import (
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/querystream/querystream/internal/protocol"
	"github.com/querystream/querystream/internal/statement"
)

// Registry tracks every connected subscriber by session id and dispatches
// the inbound protocol: connection-time parameter subscriptions, explicit
// subscribe/ping frames, and disconnect cleanup.
type Registry struct {
	log        logrus.FieldLogger
	statements *statement.Registry
	coord      *Coordinator

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// NewRegistry creates the subscriber registry and wires itself into the
// coordinator's eviction path.
func NewRegistry(
	log logrus.FieldLogger,
	statements *statement.Registry,
	coord *Coordinator,
) *Registry {
	r := &Registry{
		log:        log.WithField("component", "subscriber_registry"),
		statements: statements,
		coord:      coord,
		subs:       make(map[string]*Subscriber),
	}

	coord.setEvictHandler(r.handleEvict)

	return r
}

// OnConnect registers a new subscriber. When the connection URI carried
// parameters they are matched immediately; otherwise the session stays
// unsubscribed until an explicit subscribe frame arrives.
func (r *Registry) OnConnect(sess Session, initialParams map[string]string) *Subscriber {
	sub := newSubscriber(sess)

	r.mu.Lock()
	r.subs[sub.ID()] = sub
	r.mu.Unlock()

	subscribersActive.Inc()

	r.log.WithFields(logrus.Fields{
		"session_id":  sub.ID(),
		"with_params": len(initialParams) > 0,
	}).Info("Subscriber connected")

	if len(initialParams) > 0 {
		r.handleSubscribe(sub, normalizeParams(initialParams))
	}

	return sub
}

// OnDisconnect removes the subscriber and detaches it from its job, which
// tears the job down when it was the last one.
func (r *Registry) OnDisconnect(sessionID string) {
	r.mu.Lock()
	sub, ok := r.subs[sessionID]

	if ok {
		delete(r.subs, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	subscribersActive.Dec()

	if jobID := sub.JobID(); jobID != "" {
		r.coord.Detach(jobID, sessionID)
	}

	r.log.WithField("session_id", sessionID).Info("Subscriber disconnected")
}

// OnMessage decodes and dispatches one inbound frame. Malformed payloads
// and unknown commands are protocol violations: the session is closed and
// nothing is partially processed.
func (r *Registry) OnMessage(sessionID string, data []byte) {
	sub := r.subscriber(sessionID)
	if sub == nil {
		r.log.WithField("session_id", sessionID).Warn("Message from unknown session")

		return
	}

	inbound, err := protocol.DecodeInbound(data)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"error":      err.Error(),
		}).Warn("Protocol violation, closing session")

		//nolint:errcheck // the session is being discarded.
		sub.Session().CloseWithViolation(err.Error())

		return
	}

	switch inbound.Command {
	case protocol.CommandPing:
		r.handlePing(sub)
	case protocol.CommandSubscribe:
		r.handleSubscribe(sub, inbound.Params)
	}
}

// SubscriberCount returns the number of connected subscribers.
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subs)
}

// Subscriber returns the subscriber for a session id, or nil.
func (r *Registry) subscriber(sessionID string) *Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.subs[sessionID]
}

// handlePing answers with the current subscription state: the job's
// parameter echo when subscribed, a bare ok otherwise.
func (r *Registry) handlePing(sub *Subscriber) {
	if jobID := sub.JobID(); jobID != "" {
		if job, ok := r.coord.JobByID(jobID); ok {
			r.reply(sub, protocol.StatusSubscribed, job.Values())

			return
		}
	}

	r.reply(sub, protocol.StatusOK, nil)
}

// handleSubscribe resolves a parameter set against the statement registry
// and runs find-or-create. An unmatched set answers not_found and leaves
// any existing subscription untouched.
func (r *Registry) handleSubscribe(sub *Subscriber, params map[string]string) {
	tpl, err := r.statements.MatchParams(params)
	if err != nil {
		if errors.Is(err, statement.ErrNoMatch) {
			subscribeRequestsTotal.WithLabelValues("not_found").Inc()

			r.log.WithFields(logrus.Fields{
				"session_id": sub.ID(),
				"params":     params,
			}).Debug("No statement matches parameter set")

			r.reply(sub, protocol.StatusNotFound, params)

			return
		}

		r.log.WithError(err).Error("Statement match failed")
		r.reply(sub, protocol.StatusInternalError, params)

		return
	}

	binding := BindingKey(params)

	// Re-subscribing to the identical binding is a no-op.
	if jobID := sub.JobID(); jobID != "" {
		if job, ok := r.coord.JobByID(jobID); ok && job.Binding() == binding {
			subscribeRequestsTotal.WithLabelValues("subscribed").Inc()

			r.reply(sub, protocol.StatusSubscribed, job.Values())

			return
		}

		// Different binding: leave the old job first. The subscriber is
		// never observable on two jobs at once.
		r.coord.Detach(jobID, sub.ID())
		sub.clearJobIf(jobID)
	}

	job, err := r.coord.Subscribe(tpl, params, sub.Session())
	if err != nil {
		subscribeRequestsTotal.WithLabelValues("error").Inc()

		r.log.WithError(err).WithField("session_id", sub.ID()).Error("Subscribe failed")
		r.reply(sub, protocol.StatusInternalError, params)

		return
	}

	sub.setJob(job.ID())

	subscribeRequestsTotal.WithLabelValues("subscribed").Inc()

	r.reply(sub, protocol.StatusSubscribed, job.Values())

	// When the job already holds a result, deliver it now instead of
	// making the new subscriber wait for the next tick.
	r.coord.Replay(job, sub.Session())
}

// handleEvict clears a subscriber's job reference after the job dropped it
// during fan-out.
func (r *Registry) handleEvict(jobID, sessionID string) {
	if sub := r.subscriber(sessionID); sub != nil {
		sub.clearJobIf(jobID)
	}
}

// reply sends one status payload; a failed reply is logged and the session
// left to the disconnect path.
func (r *Registry) reply(sub *Subscriber, status protocol.Status, params map[string]string) {
	payload, err := protocol.EncodeStatus(status, params)
	if err != nil {
		r.log.WithError(err).Error("Failed to encode status payload")

		return
	}

	if err := sub.Session().Send(payload); err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": sub.ID(),
			"status":     status.String(),
			"error":      err.Error(),
		}).Warn("Failed to send status payload")
	}
}

// normalizeParams lower-cases parameter names from transport-derived maps.
func normalizeParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}

	return out
}
