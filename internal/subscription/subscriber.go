package subscription

import (
	"sync"
)

// Subscriber ties one transport session to at most one running job. The job
// reference is held as an identifier, not a pointer; all traversal goes
// through the coordinator's job index.
type Subscriber struct {
	id      string
	session Session

	mu    sync.Mutex
	jobID string
}

func newSubscriber(session Session) *Subscriber {
	return &Subscriber{
		id:      session.ID(),
		session: session,
	}
}

// ID returns the transport session id.
func (s *Subscriber) ID() string {
	return s.id
}

// Session returns the transport handle.
func (s *Subscriber) Session() Session {
	return s.session
}

// JobID returns the id of the currently subscribed job, or "" when the
// subscriber has no active subscription.
func (s *Subscriber) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.jobID
}

func (s *Subscriber) setJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobID = jobID
}

// clearJobIf clears the subscription only if it still points at the given
// job, so a stale eviction cannot wipe a newer subscription.
func (s *Subscriber) clearJobIf(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobID == jobID {
		s.jobID = ""
	}
}
