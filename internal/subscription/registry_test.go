package subscription

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	querymocks "github.com/querystream/querystream/internal/query/mocks"
	"github.com/querystream/querystream/internal/snapshot"
	"github.com/querystream/querystream/internal/subscription/mocks"
	"github.com/querystream/querystream/internal/testutil"
)

func newTestRegistry(t *testing.T, executor *querymocks.MockExecutor) (*Registry, *Coordinator) {
	t.Helper()

	coord := NewCoordinator(
		testutil.NewTestLogger(),
		newTestStatements(t),
		executor,
		snapshot.NewMemoryCache(),
	)

	registry := NewRegistry(testutil.NewTestLogger(), newTestStatements(t), coord)

	require.NoError(t, coord.Start(testutil.NewTestContext(t)))

	t.Cleanup(func() {
		require.NoError(t, coord.Stop())
	})

	return registry, coord
}

func quietExecutor(t *testing.T, ctrl *gomock.Controller) *querymocks.MockExecutor {
	t.Helper()

	executor := querymocks.NewMockExecutor(ctrl)
	executor.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]map[string]any{}, nil).
		AnyTimes()

	return executor
}

func TestRegistry_PingBeforeSubscribe(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, _ := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := newFakeSession("s1")
	registry.OnConnect(sess, nil)

	registry.OnMessage("s1", []byte(`{"ws_command":"ping"}`))

	require.Equal(t, 1, sess.sentCount())

	status := decodeStatuses(t, sess.lastSent())
	assert.Equal(t, map[string]string{"ws_status": "ok"}, status)
}

func TestRegistry_SubscribeThenPingEchoesParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, coord := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := newFakeSession("s1")
	registry.OnConnect(sess, nil)

	registry.OnMessage("s1", []byte(`{"user":"123"}`))

	require.Equal(t, 1, coord.JobCount())
	require.Equal(t, 1, sess.sentCount())

	status := decodeStatuses(t, sess.lastSent())
	assert.Equal(t, "subscribed", status["ws_status"])
	assert.Equal(t, "123", status["user"])

	registry.OnMessage("s1", []byte(`{"ws_command":"ping"}`))

	require.Equal(t, 2, sess.sentCount())

	status = decodeStatuses(t, sess.lastSent())
	assert.Equal(t, "subscribed", status["ws_status"])
	assert.Equal(t, "123", status["user"])
}

func TestRegistry_ConnectWithURIParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, coord := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := newFakeSession("s1")
	sub := registry.OnConnect(sess, map[string]string{"User": "123"})

	// Connection-time parameters subscribe immediately; the ack arrives
	// before any explicit frame.
	assert.NotEmpty(t, sub.JobID())
	assert.Equal(t, 1, coord.JobCount())
	require.Equal(t, 1, sess.sentCount())

	status := decodeStatuses(t, sess.lastSent())
	assert.Equal(t, "subscribed", status["ws_status"])
	assert.Equal(t, "123", status["user"])
}

func TestRegistry_LateJoinerReceivesLastSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	executor := querymocks.NewMockExecutor(ctrl)
	executor.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]map[string]any{{"id": int64(123)}}, nil).
		AnyTimes()

	registry, coord := newTestRegistry(t, executor)

	first := newFakeSession("a")
	sub := registry.OnConnect(first, map[string]string{"user": "123"})

	job, ok := coord.JobByID(sub.JobID())
	require.True(t, ok)

	// Complete one poll so the job holds a snapshot.
	job.poll(testutil.NewTestContext(t))
	require.Equal(t, 2, first.sentCount())

	late := newFakeSession("b")
	registry.OnConnect(late, map[string]string{"user": "123"})

	// The late joiner gets the subscribed ack followed by the replayed
	// result, without waiting for the next tick.
	require.Equal(t, 2, late.sentCount())

	status := decodeStatuses(t, late.sent[0])
	assert.Equal(t, "subscribed", status["ws_status"])

	var rows []map[string]any

	require.NoError(t, json.Unmarshal(late.sent[1], &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, float64(123), rows[0]["id"])
}

func TestRegistry_NotFoundLeavesSubscriptionIntact(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, coord := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := newFakeSession("s1")
	sub := registry.OnConnect(sess, nil)

	registry.OnMessage("s1", []byte(`{"user":"123"}`))

	jobID := sub.JobID()
	require.NotEmpty(t, jobID)

	// No statement covers this parameter set.
	registry.OnMessage("s1", []byte(`{"flavor":"vanilla"}`))

	status := decodeStatuses(t, sess.lastSent())
	assert.Equal(t, "not_found", status["ws_status"])
	assert.Equal(t, "vanilla", status["flavor"])

	// The prior subscription still stands.
	assert.Equal(t, jobID, sub.JobID())
	assert.Equal(t, 1, coord.JobCount())

	job, ok := coord.JobByID(jobID)
	require.True(t, ok)
	assert.Equal(t, 1, job.SubscriberCount())
}

func TestRegistry_ResubscribeSameBindingIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, coord := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := newFakeSession("s1")
	sub := registry.OnConnect(sess, nil)

	registry.OnMessage("s1", []byte(`{"user":"123"}`))

	jobID := sub.JobID()

	registry.OnMessage("s1", []byte(`{"user":"123"}`))

	assert.Equal(t, jobID, sub.JobID())
	assert.Equal(t, 1, coord.JobCount())

	status := decodeStatuses(t, sess.lastSent())
	assert.Equal(t, "subscribed", status["ws_status"])
}

func TestRegistry_ResubscribeSwitchesJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, coord := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := newFakeSession("s1")
	sub := registry.OnConnect(sess, nil)

	registry.OnMessage("s1", []byte(`{"user":"123"}`))

	oldJobID := sub.JobID()
	oldJob, ok := coord.JobByID(oldJobID)
	require.True(t, ok)

	registry.OnMessage("s1", []byte(`{"user":"456"}`))

	newJobID := sub.JobID()
	assert.NotEqual(t, oldJobID, newJobID)

	// The old job lost its only subscriber and tore down; the subscriber is
	// never on two jobs at once.
	assert.Equal(t, 1, coord.JobCount())
	assert.Equal(t, StateStopped, oldJob.State())

	_, ok = coord.JobByID(oldJobID)
	assert.False(t, ok)
}

func TestRegistry_UnknownCommandClosesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, _ := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := mocks.NewMockSession(ctrl)
	sess.EXPECT().ID().Return("s1").AnyTimes()
	sess.EXPECT().CloseWithViolation(gomock.Any()).Return(nil).Times(1)

	registry.OnConnect(sess, nil)

	registry.OnMessage("s1", []byte(`{"ws_command":"shutdown"}`))
}

func TestRegistry_MalformedPayloadClosesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, _ := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := mocks.NewMockSession(ctrl)
	sess.EXPECT().ID().Return("s1").AnyTimes()
	sess.EXPECT().CloseWithViolation(gomock.Any()).Return(nil).Times(1)

	registry.OnConnect(sess, nil)

	registry.OnMessage("s1", []byte(`not json`))
}

func TestRegistry_OnDisconnectTearsDownLastSubscriber(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, coord := newTestRegistry(t, quietExecutor(t, ctrl))

	sessA := newFakeSession("a")
	sessB := newFakeSession("b")

	registry.OnConnect(sessA, map[string]string{"user": "123"})
	registry.OnConnect(sessB, map[string]string{"user": "123"})

	require.Equal(t, 1, coord.JobCount())
	require.Equal(t, 2, registry.SubscriberCount())

	registry.OnDisconnect("a")

	assert.Equal(t, 1, registry.SubscriberCount())
	assert.Equal(t, 1, coord.JobCount())

	registry.OnDisconnect("b")

	assert.Equal(t, 0, registry.SubscriberCount())
	assert.Equal(t, 0, coord.JobCount())
}

func TestRegistry_MessageFromUnknownSessionIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, coord := newTestRegistry(t, quietExecutor(t, ctrl))

	registry.OnMessage("ghost", []byte(`{"user":"123"}`))

	assert.Equal(t, 0, coord.JobCount())
}

func TestRegistry_EvictionClearsJobReference(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, coord := newTestRegistry(t, quietExecutor(t, ctrl))

	sess := newFakeSession("s1")
	sub := registry.OnConnect(sess, map[string]string{"user": "123"})

	jobID := sub.JobID()
	require.NotEmpty(t, jobID)

	job, ok := coord.JobByID(jobID)
	require.True(t, ok)

	// Simulate the fan-out path dropping the subscriber after a transport
	// failure.
	sess.mu.Lock()
	sess.sendErr = assert.AnError
	sess.mu.Unlock()

	job.poll(testutil.NewTestContext(t))

	assert.Empty(t, sub.JobID())
	assert.Equal(t, 0, coord.JobCount())
	assert.True(t, sess.wasClosed())
}
