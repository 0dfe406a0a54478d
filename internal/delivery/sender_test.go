package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/logger"
	"platewatch/internal/model"
	"platewatch/internal/repository"
)

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	connectErrs []error        // consumed in order; empty means success
	failKeys    map[string]int // fail the next N sends of this key, dropping the connection
	rejectKeys  map[string]bool
	attempts    []string // every send attempt, failed or not
	sent        []Envelope
}

func (t *fakeTransport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.connectErrs) > 0 {
		err := t.connectErrs[0]
		t.connectErrs = t.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Send(_ context.Context, env Envelope) (Ack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = append(t.attempts, env.Key)
	if t.failKeys[env.Key] > 0 {
		t.failKeys[env.Key]--
		t.connected = false
		return Ack{}, errors.New("broken pipe")
	}
	t.sent = append(t.sent, env)
	if t.rejectKeys[env.Key] {
		return Ack{Key: env.Key, Accepted: false, Reason: "schema mismatch"}, nil
	}
	return Ack{Key: env.Key, Accepted: true}, nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) attemptedKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.attempts))
	copy(out, t.attempts)
	return out
}

type memDetRepo struct {
	mu      sync.Mutex
	records []model.DetectionRecord
	marks   map[int64]int
}

func newMemDetRepo(uids ...string) *memDetRepo {
	r := &memDetRepo{marks: map[int64]int{}}
	for i, uid := range uids {
		r.records = append(r.records, model.DetectionRecord{
			ID:        int64(i + 1),
			UID:       uid,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	return r
}

func (r *memDetRepo) Insert(*model.DetectionRecord) (int64, error) { return 0, nil }

func (r *memDetRepo) GetByID(int64) (*model.DetectionRecord, error) { return nil, nil }

func (r *memDetRepo) QueryUndelivered(limit int) ([]model.DetectionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DetectionRecord
	for _, rec := range r.records {
		if !rec.Delivered && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memDetRepo) MarkDelivered(id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks[id]++
	for i := range r.records {
		if r.records[i].ID == id {
			r.records[i].Delivered = true
			r.records[i].DeliveredAt = &at
		}
	}
	return nil
}

func (r *memDetRepo) QueryForEviction(time.Time) (delivered, undelivered []repository.FileRef, err error) {
	return nil, nil, nil
}

func (r *memDetRepo) CountSince(time.Time) (int, error) { return 0, nil }

func (r *memDetRepo) deliveredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Delivered {
			n++
		}
	}
	return n
}

func (r *memDetRepo) markCount(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marks[id]
}

type memHealthLog struct {
	mu      sync.Mutex
	results []model.HealthCheckResult
}

func (r *memHealthLog) Insert(*model.HealthCheckResult) (int64, error) { return 0, nil }

func (r *memHealthLog) QueryUndelivered(limit int) ([]model.HealthCheckResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.HealthCheckResult
	for _, res := range r.results {
		if !res.Delivered && len(out) < limit {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memHealthLog) MarkDelivered(id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.results {
		if r.results[i].ID == id {
			r.results[i].Delivered = true
		}
	}
	return nil
}

func (r *memHealthLog) Recent(string, int) ([]model.HealthCheckResult, error) { return nil, nil }

func (r *memHealthLog) Ping() error { return nil }

func testConfig() Config {
	return Config{
		Interval:          time.Hour, // loops are driven manually via Flush
		BatchSize:         10,
		MaxConnectRetries: 2,
		RetryBackoff:      time.Millisecond,
		SendTimeout:       time.Second,
	}
}

func newTestSender(tr Transport, det *memDetRepo, hl *memHealthLog) *Sender {
	return NewSender(tr, det, hl, testConfig(), logger.Nop())
}

func TestSender_FlushDeliversAndMarks(t *testing.T) {
	tr := &fakeTransport{}
	det := newMemDetRepo("uid-1", "uid-2")
	hl := &memHealthLog{results: []model.HealthCheckResult{
		{ID: 7, Component: "camera", Status: model.StatusPass},
	}}
	s := newTestSender(tr, det, hl)

	require.NoError(t, s.Flush(context.Background()))

	assert.Equal(t, 3, tr.sentCount())
	assert.Equal(t, 2, det.deliveredCount())
	assert.True(t, hl.results[0].Delivered)
	assert.True(t, s.Healthy())
}

func TestSender_TransientFailureDeliversExactlyOnce(t *testing.T) {
	tr := &fakeTransport{failKeys: map[string]int{"uid-1": 1}}
	det := newMemDetRepo("uid-1")
	s := newTestSender(tr, det, &memHealthLog{})

	// First cycle: the wire breaks on the only record, nothing is marked.
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, det.deliveredCount())

	// Second cycle: reconnect and the same record goes through.
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, det.deliveredCount())
	assert.Equal(t, 1, det.markCount(1), "delivered flag flips exactly once")

	// Third cycle: backlog is empty, nothing re-sent.
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, tr.sentCount())
}

func TestSender_RejectionIsPerRecord(t *testing.T) {
	tr := &fakeTransport{rejectKeys: map[string]bool{"uid-1": true}}
	det := newMemDetRepo("uid-1", "uid-2")
	s := newTestSender(tr, det, &memHealthLog{})

	require.NoError(t, s.Flush(context.Background()))

	assert.Equal(t, 1, det.deliveredCount(), "rejected record stays undelivered")
	assert.Equal(t, 0, det.markCount(1))
	assert.Equal(t, 1, det.markCount(2))
}

func TestSender_SendFailureDoesNotBlockBatch(t *testing.T) {
	tr := &fakeTransport{failKeys: map[string]int{"uid-1": 1}}
	det := newMemDetRepo("uid-1", "uid-2")
	s := newTestSender(tr, det, &memHealthLog{})

	require.NoError(t, s.Flush(context.Background()))

	// The failed record is skipped, not the batch: the sender reconnects
	// and still attempts the next record in the same cycle.
	assert.Equal(t, []string{"uid-1", "uid-2"}, tr.attemptedKeys())
	assert.Equal(t, 0, det.markCount(1), "failed record stays undelivered")
	assert.Equal(t, 1, det.markCount(2))

	// The skipped record goes through on the next cycle.
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 2, det.deliveredCount())
}

func TestSender_ReconnectBudgetBoundsCycle(t *testing.T) {
	tr := &fakeTransport{
		failKeys:    map[string]int{"uid-1": 1},
		connectErrs: []error{nil, errors.New("refused"), errors.New("refused")},
	}
	det := newMemDetRepo("uid-1", "uid-2")
	s := newTestSender(tr, det, &memHealthLog{})

	// uid-1's send drops the wire; every reconnect is refused, so the
	// cycle runs out of its connect budget instead of dialing forever.
	require.Error(t, s.Flush(context.Background()))
	assert.Equal(t, []string{"uid-1"}, tr.attemptedKeys())
	assert.Equal(t, 0, det.deliveredCount())
	assert.False(t, s.Healthy())
}

func TestSender_UnreachableCollectorSignalsHealth(t *testing.T) {
	tr := &fakeTransport{connectErrs: []error{
		errors.New("refused"), errors.New("refused"),
	}}
	det := newMemDetRepo("uid-1")
	s := newTestSender(tr, det, &memHealthLog{})

	require.Error(t, s.Flush(context.Background()))
	assert.False(t, s.Healthy(), "failed cycle surfaces as a network health signal")
	assert.Equal(t, 0, det.deliveredCount())

	// The collector comes back; the next cycle clears the signal and
	// drains the backlog.
	require.NoError(t, s.Flush(context.Background()))
	assert.True(t, s.Healthy())
	assert.Equal(t, 1, det.deliveredCount())
}

func TestSender_StartStop(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSender(tr, newMemDetRepo(), &memHealthLog{})

	s.Start(context.Background())
	s.Start(context.Background()) // idempotent
	s.Stop()
	s.Stop() // idempotent

	assert.False(t, tr.Connected())
}
