package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseobserver/internal/domain"
	"caseobserver/internal/notifier"
	"caseobserver/internal/registry"
	"caseobserver/internal/storage"
	"caseobserver/internal/task/engine"
	logx "caseobserver/pkg/logx"
)

const testCourt = "TribunalulBUCURESTI"

type clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newClock(step time.Duration) *clock {
	return &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), step: step}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// fakeFetcher serves snapshots by case number and records how many fetches
// of the same case overlap.
type fakeFetcher struct {
	mu       sync.Mutex
	snaps    map[string]domain.Snapshot
	active   map[string]int
	maxSeen  map[string]int
	calls    atomic.Int64
	delay    time.Duration
	fetchErr error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		snaps:   make(map[string]domain.Snapshot),
		active:  make(map[string]int),
		maxSeen: make(map[string]int),
	}
}

func (f *fakeFetcher) set(snap domain.Snapshot) {
	f.mu.Lock()
	f.snaps[snap.Number] = snap
	f.mu.Unlock()
}

func (f *fakeFetcher) Fetch(ctx context.Context, number, court string) (domain.Snapshot, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.active[number]++
	if f.active[number] > f.maxSeen[number] {
		f.maxSeen[number] = f.active[number]
	}
	snap, ok := f.snaps[number]
	err := f.fetchErr
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[number]--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.Snapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("no snapshot for %s: %w", number, domain.ErrUpstreamUnavailable)
	}
	return snap, nil
}

// recordingQueue captures deliveries instead of sending them.
type recordingQueue struct {
	mu  sync.Mutex
	got []notifier.Delivery
}

func (q *recordingQueue) Enqueue(_ context.Context, d notifier.Delivery) error {
	q.mu.Lock()
	q.got = append(q.got, d)
	q.mu.Unlock()
	return nil
}

func (q *recordingQueue) deliveries() []notifier.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]notifier.Delivery(nil), q.got...)
}

type harness struct {
	svc   *Service
	store storage.Store
	eng   *engine.Service
	queue *recordingQueue
	clock *clock
}

func newHarness(t *testing.T, fetcher Fetcher, clk *clock) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "monitor.db"),
	}, logx.Nop())
	require.NoError(t, err)

	eng := engine.New(engine.Config{Enabled: true, Workers: 3, QueueSize: 64, DefaultTimeout: 10 * time.Second}, logx.Nop(), nil)
	eng.Start(ctx)

	q := &recordingQueue{}
	disp := notifier.NewDispatcher(st, q, logx.Nop(), nil)
	svc := New(Config{DefaultIntervalMinutes: 60, CheckTimeout: 5 * time.Second}, st, fetcher, disp, eng, logx.Nop(), WithClock(clk.Now))

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Stop(stopCtx)
		_ = st.Close()
	})
	return &harness{svc: svc, store: st, eng: eng, queue: q, clock: clk}
}

func snapshot(number, stage string) domain.Snapshot {
	return domain.Snapshot{
		Number:          number,
		Court:           testCourt,
		Status:          stage,
		ProceduralStage: stage,
		Category:        "Civil",
		Subject:         "pretentii",
		Hearings:        []domain.Hearing{{Date: "2024-03-10T00:00:00", Time: "09:00", JudicialPanel: "C1"}},
		Parties:         []domain.Party{{Name: "SC ALFA SRL", Role: "Reclamant"}},
	}
}

func (h *harness) subscriber(t *testing.T, caseID, email string) domain.Subscriber {
	t.Helper()
	ctx := context.Background()
	sub, err := h.svc.SaveSubscriber(ctx, domain.Subscriber{Name: email, Email: email})
	require.NoError(t, err)
	require.NoError(t, h.svc.Subscribe(ctx, sub.ID, caseID))
	return sub
}

func TestStatusChangeNotifiesEverySubscriber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	f.set(snapshot("1234/2/2024", "Fond"))
	c, err := h.svc.CreateCase(ctx, "1234/2/2024", testCourt)
	require.NoError(t, err)
	assert.False(t, c.MonitoringEnabled)
	assert.Equal(t, "Fond", c.Snapshot.Status)

	alice := h.subscriber(t, c.ID, "alice@example.com")
	bob := h.subscriber(t, c.ID, "bob@example.com")

	st, err := h.svc.StartMonitoring(ctx, c.ID, 30)
	require.NoError(t, err)
	require.NotNil(t, st.LastCheckedAt)
	require.NotNil(t, st.NextCheckAt)
	assert.Equal(t, st.LastCheckedAt.Add(30*time.Minute), *st.NextCheckAt)

	f.set(snapshot("1234/2/2024", "Procedura"))
	h.clock.Advance(31 * time.Minute)
	checkedAt := h.clock.Peek()

	res, err := h.svc.CheckNow(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, res.Changes.Status.Changed)
	assert.Len(t, res.Notifications, 2)
	assert.Empty(t, res.NotifyErrors)

	for _, sub := range []domain.Subscriber{alice, bob} {
		ns, err := h.svc.ListNotifications(ctx, domain.NotificationQuery{SubscriberID: sub.ID})
		require.NoError(t, err)
		require.Len(t, ns, 1)
		assert.Equal(t, "Case Update: 1234/2/2024 - Status Changed", ns[0].Subject)
		assert.Contains(t, ns[0].Message, "• Status changed from 'Fond' to 'Procedura'")
		assert.Nil(t, ns[0].ReadAt)
	}

	dels := h.queue.deliveries()
	require.Len(t, dels, 2)
	for _, d := range dels {
		assert.Equal(t, notifier.ChannelEmail, d.Channel)
	}

	stored, err := h.svc.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Procedura", stored.Snapshot.Status)

	st, err = h.svc.GetSettings(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, st.LastCheckedAt)
	assert.True(t, checkedAt.Equal(*st.LastCheckedAt))
	assert.Equal(t, st.LastCheckedAt.Add(30*time.Minute), *st.NextCheckAt)

	// A second check sees nothing new.
	res, err = h.svc.CheckNow(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, res.Changes.HasAnyChanges())
	assert.Empty(t, res.Notifications)
	assert.Len(t, h.queue.deliveries(), 2)

	ns, err := h.svc.ListNotifications(ctx, domain.NotificationQuery{CaseID: c.ID})
	require.NoError(t, err)
	require.Len(t, ns, 2)
	require.NoError(t, h.svc.MarkRead(ctx, ns[0].ID))
	ns, err = h.svc.ListNotifications(ctx, domain.NotificationQuery{SubscriberID: ns[0].SubscriberID})
	require.NoError(t, err)
	require.NotNil(t, ns[0].ReadAt)
}

func TestTogglesOffSuppressNotification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	f.set(snapshot("7/2/2024", "Fond"))
	c, err := h.svc.CreateCase(ctx, "7/2/2024", testCourt)
	require.NoError(t, err)
	h.subscriber(t, c.ID, "carol@example.com")

	_, err = h.svc.UpdateSettings(ctx, c.ID, domain.Preferences{
		IntervalMinutes: 60,
		EmailEnabled:    true,
		NotifyHearings:  true,
		NotifyParties:   true,
	})
	require.NoError(t, err)

	f.set(snapshot("7/2/2024", "Apel"))
	res, err := h.svc.CheckNow(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, res.Changes.HasAnyChanges())
	assert.Empty(t, res.Notifications)

	stored, err := h.svc.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Apel", stored.Snapshot.Status)
}

const soapCase = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<CautareDosareResponse xmlns="portalquery.just.ro"><CautareDosareResult>
<Dosar><numar>55/3/2024</numar><institutie>TribunalulBUCURESTI</institutie><stadiuProcesual>Fond</stadiuProcesual>
<parti><DosarParte><nume>POPESCU ION</nume><calitateParte>Parat</calitateParte></DosarParte></parti>
</Dosar></CautareDosareResult></CautareDosareResponse>
</soap:Body></soap:Envelope>`

func TestUpstreamFailureKeepsSnapshotAndReschedules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var (
		failing atomic.Bool
		failed  atomic.Int64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			failed.Add(1)
			http.Error(w, "portal down", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		_, _ = w.Write([]byte(soapCase))
	}))
	t.Cleanup(srv.Close)

	client, err := registry.New(registry.Config{
		BaseURL:       srv.URL,
		Retries:       2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}, logx.Nop())
	require.NoError(t, err)

	h := newHarness(t, client, newClock(0))
	c, err := h.svc.CreateCase(ctx, "55/3/2024", testCourt)
	require.NoError(t, err)
	sub := h.subscriber(t, c.ID, "dave@example.com")
	_, err = h.svc.StartMonitoring(ctx, c.ID, 15)
	require.NoError(t, err)

	failing.Store(true)
	h.clock.Advance(20 * time.Minute)
	checkedAt := h.clock.Peek()

	_, err = h.svc.CheckNow(ctx, c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.EqualValues(t, 3, failed.Load())

	ns, err := h.svc.ListNotifications(ctx, domain.NotificationQuery{SubscriberID: sub.ID})
	require.NoError(t, err)
	assert.Empty(t, ns)
	assert.Empty(t, h.queue.deliveries())

	stored, err := h.svc.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fond", stored.Snapshot.Status)

	st, err := h.svc.GetSettings(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, st.LastCheckedAt)
	assert.True(t, checkedAt.Equal(*st.LastCheckedAt))
	assert.Equal(t, checkedAt.Add(15*time.Minute), *st.NextCheckAt)
}

func TestStartStopMonitoring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	f.set(snapshot("9/2/2024", "Fond"))
	c, err := h.svc.CreateCase(ctx, "9/2/2024", testCourt)
	require.NoError(t, err)

	_, err = h.svc.StartMonitoring(ctx, c.ID, -5)
	assert.ErrorIs(t, err, domain.ErrValidation)

	startedAt := h.clock.Peek()
	st, err := h.svc.StartMonitoring(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 60, st.IntervalMinutes)
	assert.True(t, startedAt.Equal(*st.LastCheckedAt))
	assert.Equal(t, startedAt.Add(time.Hour), *st.NextCheckAt)

	on, err := h.svc.IsMonitored(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, on)

	active, err := h.svc.ActiveMonitoring(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, c.ID, active[0].CaseID)

	h.clock.Advance(10 * time.Minute)
	require.NoError(t, h.svc.StopMonitoring(ctx, c.ID))
	on, err = h.svc.IsMonitored(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, on)

	after, err := h.svc.GetSettings(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, *st.LastCheckedAt, *after.LastCheckedAt)
	assert.Equal(t, *st.NextCheckAt, *after.NextCheckAt)

	_, err = h.svc.IsMonitored(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.svc.StopMonitoring(ctx, "missing"), domain.ErrNotFound)
}

func TestCreateCaseValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	_, err := h.svc.CreateCase(ctx, " ", testCourt)
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.set(snapshot("3/2/2024", "Fond"))
	_, err = h.svc.CreateCase(ctx, "3/2/2024", testCourt)
	require.NoError(t, err)
	_, err = h.svc.CreateCase(ctx, "3/2/2024", testCourt)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = h.svc.CreateCase(ctx, "404/2/2024", testCourt)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	_, err = h.svc.SaveSubscriber(ctx, domain.Subscriber{Name: "nobody"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	sub, err := h.svc.SaveSubscriber(ctx, domain.Subscriber{Email: "erin@example.com"})
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.Subscribe(ctx, sub.ID, "missing"), domain.ErrNotFound)

	_, err = h.svc.UpdateSettings(ctx, "missing", domain.Preferences{IntervalMinutes: 0})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.svc.ListNotifications(ctx, domain.NotificationQuery{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSweepSkipsDisabledCaseWithoutRescheduling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	f.set(snapshot("11/2/2024", "Fond"))
	c, err := h.svc.CreateCase(ctx, "11/2/2024", testCourt)
	require.NoError(t, err)
	started, err := h.svc.StartMonitoring(ctx, c.ID, 60)
	require.NoError(t, err)
	require.NoError(t, h.svc.StopMonitoring(ctx, c.ID))

	before := f.calls.Load()
	h.clock.Advance(2 * time.Hour)
	res, err := h.svc.runCheck(ctx, c.ID, triggerSweep)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, before, f.calls.Load())

	st, err := h.svc.GetSettings(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, st.LastCheckedAt)
	require.NotNil(t, st.NextCheckAt)
	assert.True(t, started.LastCheckedAt.Equal(*st.LastCheckedAt))
	assert.True(t, started.NextCheckAt.Equal(*st.NextCheckAt))
}

// brokenSubscribers fails every subscriber lookup.
type brokenSubscribers struct {
	storage.Store
	err error
}

func (b brokenSubscribers) ListSubscribers(context.Context, string) ([]domain.Subscriber, error) {
	return nil, b.err
}

func TestSubscriberLookupFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	f.set(snapshot("77/2/2024", "Fond"))
	c, err := h.svc.CreateCase(ctx, "77/2/2024", testCourt)
	require.NoError(t, err)
	sub := h.subscriber(t, c.ID, "erin@example.com")
	_, err = h.svc.StartMonitoring(ctx, c.ID, 30)
	require.NoError(t, err)

	lookupErr := errors.New("subscribers table locked")
	broken := New(Config{DefaultIntervalMinutes: 60, CheckTimeout: 5 * time.Second},
		brokenSubscribers{Store: h.store, err: lookupErr}, f,
		notifier.NewDispatcher(h.store, h.queue, logx.Nop(), nil), h.eng, logx.Nop(), WithClock(h.clock.Now))

	f.set(snapshot("77/2/2024", "Apel"))
	h.clock.Advance(31 * time.Minute)
	checkedAt := h.clock.Peek()

	_, err = broken.runCheck(ctx, c.ID, triggerSweep)
	require.ErrorIs(t, err, lookupErr)
	assert.Empty(t, h.queue.deliveries())

	stored, err := h.svc.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fond", stored.Snapshot.Status)

	st, err := h.svc.GetSettings(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, st.LastCheckedAt)
	assert.True(t, checkedAt.Equal(*st.LastCheckedAt))

	// The next healthy check still sees the change.
	res, err := h.svc.CheckNow(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, res.Changes.Status.Changed)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, sub.ID, res.Notifications[0].SubscriberID)
}

func TestSweepChecksDueCases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	var ids []string
	for i := 0; i < 3; i++ {
		number := fmt.Sprintf("%d/5/2024", i+1)
		f.set(snapshot(number, "Fond"))
		c, err := h.svc.CreateCase(ctx, number, testCourt)
		require.NoError(t, err)
		_, err = h.svc.StartMonitoring(ctx, c.ID, 30)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	for i := 0; i < 3; i++ {
		f.set(snapshot(fmt.Sprintf("%d/5/2024", i+1), "Apel"))
	}

	// Not due yet.
	rep, err := h.svc.sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Due)

	h.clock.Advance(31 * time.Minute)
	rep, err = h.svc.sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Due)
	assert.Equal(t, 3, rep.Enqueued+rep.InFlight)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			c, err := h.svc.GetCase(ctx, id)
			if err != nil || c.Snapshot.Status != "Apel" || h.svc.CheckInFlight(id) {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRefetchOverwritesSnapshotSilently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	f.set(snapshot("21/2/2024", "Fond"))
	c, err := h.svc.CreateCase(ctx, "21/2/2024", testCourt)
	require.NoError(t, err)
	h.subscriber(t, c.ID, "frank@example.com")
	before, err := h.svc.GetSettings(ctx, c.ID)
	require.NoError(t, err)

	f.set(snapshot("21/2/2024", "Recurs"))
	got, err := h.svc.Refetch(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Recurs", got.Snapshot.Status)

	ns, err := h.svc.ListNotifications(ctx, domain.NotificationQuery{CaseID: c.ID})
	require.NoError(t, err)
	assert.Empty(t, ns)

	after, err := h.svc.GetSettings(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, before.NextCheckAt, after.NextCheckAt)
}

func TestCheckNowRejectsConcurrentCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	h := newHarness(t, f, newClock(0))

	f.set(snapshot("31/2/2024", "Fond"))
	c, err := h.svc.CreateCase(ctx, "31/2/2024", testCourt)
	require.NoError(t, err)

	f.mu.Lock()
	f.delay = 200 * time.Millisecond
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.CheckNow(ctx, c.ID)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.svc.CheckInFlight(c.ID) }, time.Second, time.Millisecond)

	_, err = h.svc.CheckNow(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrCheckInProgress)
	require.NoError(t, <-done)
}

// Concurrent sweeps and manual checks must never run two checks of the same
// case at once, and every case must end up rescheduled from its last check.
func TestConcurrentSweepsNeverOverlapPerCase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeFetcher()
	f.delay = 2 * time.Millisecond
	clk := newClock(0)
	h := newHarness(t, f, clk)

	var ids []string
	for i := 0; i < 6; i++ {
		number := fmt.Sprintf("%d/9/2024", i+1)
		f.set(snapshot(number, "Fond"))
		c, err := h.svc.CreateCase(ctx, number, testCourt)
		require.NoError(t, err)
		_, err = h.svc.StartMonitoring(ctx, c.ID, 1)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	// Every read of the clock now moves two hours, so every case is due on
	// every sweep.
	clk.mu.Lock()
	clk.step = 2 * time.Hour
	clk.mu.Unlock()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 15; i++ {
				assert.NoError(t, h.svc.Sweep(ctx))
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(7))
		for i := 0; i < 30; i++ {
			id := ids[rng.Intn(len(ids))]
			if _, err := h.svc.CheckNow(ctx, id); err != nil && !errors.Is(err, domain.ErrCheckInProgress) {
				t.Errorf("CheckNow(%s) = %v", id, err)
			}
		}
	}()
	wg.Wait()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if h.svc.CheckInFlight(id) {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)

	assert.Positive(t, f.calls.Load())
	f.mu.Lock()
	for number, n := range f.maxSeen {
		assert.LessOrEqual(t, n, 1, "overlapping fetches of %s", number)
	}
	f.mu.Unlock()

	for _, id := range ids {
		st, err := h.svc.GetSettings(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, st.LastCheckedAt)
		require.NotNil(t, st.NextCheckAt)
		assert.Equal(t, st.LastCheckedAt.Add(time.Minute), *st.NextCheckAt)
	}
}
