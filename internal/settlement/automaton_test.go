package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/payments"
	"github.com/example/ride-sharing/internal/storage"
)

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type call struct {
	kind      string
	amount    int64
	chargeID  string
	reference string
}

type fakePayments struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error // by reference

	entered chan struct{}
	block   chan struct{}
}

func (f *fakePayments) Payout(ctx context.Context, amountCents int64, currency, reference string) (payments.Receipt, error) {
	return f.do(call{kind: "payout", amount: amountCents, reference: reference})
}

func (f *fakePayments) Refund(ctx context.Context, chargeID, reference string) (payments.Receipt, error) {
	return f.do(call{kind: "refund", chargeID: chargeID, reference: reference})
}

func (f *fakePayments) do(c call) (payments.Receipt, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if err := f.fail[c.reference]; err != nil {
		return payments.Receipt{}, err
	}
	return payments.Receipt{ID: c.kind + "_" + c.reference}, nil
}

func (f *fakePayments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	store *storage.MemoryStore
	pay   *fakePayments
	a     *Automaton
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	pay := &fakePayments{fail: map[string]error{}}
	a := NewAutomaton(store, pay, nil, "eur", nil)
	a.Now = func() time.Time { return now }
	return &fixture{store: store, pay: pay, a: a}
}

// route saves a 60-minute route of driver "drv" that departed at departure.
func (f *fixture) route(t *testing.T, departure time.Time) models.Route {
	t.Helper()
	r := &models.Route{DriverID: "drv", VehicleID: "veh", DepartureDate: departure, EstimatedDuration: 60, AvailableSeats: 3}
	require.NoError(t, f.store.SaveRoute(context.Background(), r))
	return *r
}

func (f *fixture) reserve(t *testing.T, routeID, passenger string, mutate func(*models.Reservation)) models.Reservation {
	t.Helper()
	res := &models.Reservation{
		RouteID:     routeID,
		PassengerID: passenger,
		Seats:       1,
		Status:      models.ReservationAccepted,
		ChargeID:    "ch_" + passenger,
		Price:       14.51,
		CreatedAt:   now.Add(-72 * time.Hour),
	}
	if mutate != nil {
		mutate(res)
	}
	require.NoError(t, f.store.SaveReservation(context.Background(), res))
	return *res
}

func settledLongAgo() time.Time { return now.Add(-GracePeriod - 2*time.Hour) }

func TestSettleable(t *testing.T) {
	r := models.Route{DepartureDate: now.Add(-GracePeriod - time.Hour), EstimatedDuration: 60}
	assert.False(t, Settleable(r, now), "completion exactly 24h ago is not yet settleable")
	assert.True(t, Settleable(r, now.Add(time.Second)))

	future := models.Route{DepartureDate: now.Add(time.Hour), EstimatedDuration: 60}
	assert.False(t, Settleable(future, now))
}

func TestRunCycle_PayoutAndRefund(t *testing.T) {
	f := newFixture(t)
	r := f.route(t, settledLongAgo())
	paid := f.reserve(t, r.ID, "p1", nil)
	refunded := f.reserve(t, r.ID, "p2", func(res *models.Reservation) { res.DriverNoPickedMe = true })

	report, err := f.a.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.RoutesSettable)
	assert.Equal(t, 1, report.Payouts)
	assert.Equal(t, 1, report.Refunds)
	assert.ElementsMatch(t, []call{
		{kind: "payout", amount: 1451, reference: paid.ID},
		{kind: "refund", chargeID: "ch_p2", reference: refunded.ID},
	}, f.pay.calls)

	for _, p := range []string{"p1", "p2"} {
		left, _ := f.store.UnresolvedReservations(context.Background(), r.ID, p)
		assert.Empty(t, left)
	}
}

func TestRunCycle_SecondRunIsNoop(t *testing.T) {
	f := newFixture(t)
	r := f.route(t, settledLongAgo())
	f.reserve(t, r.ID, "p1", nil)
	f.reserve(t, r.ID, "p2", func(res *models.Reservation) { res.DriverNoPickedMe = true })

	_, err := f.a.RunCycle(context.Background())
	require.NoError(t, err)
	first := f.pay.count()

	report, err := f.a.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, first)
	assert.Equal(t, first, f.pay.count())
	assert.Zero(t, report.Payouts+report.Refunds)
}

func TestRunCycle_DisputeHoldsUntilRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.route(t, settledLongAgo())
	res := f.reserve(t, r.ID, "p1", nil)
	d := &models.Dispute{RouteID: r.ID, PassengerID: "p1", DriverID: "drv"}
	require.NoError(t, f.store.SaveDispute(ctx, d))

	for i := 0; i < 2; i++ {
		report, err := f.a.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Disputed)
	}
	assert.Zero(t, f.pay.count())

	require.NoError(t, f.store.DeleteDispute(ctx, d.ID))
	report, err := f.a.RunCycle(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Payouts)
	require.Len(t, f.pay.calls, 1)
	assert.Equal(t, res.ID, f.pay.calls[0].reference)
}

func TestRunCycle_DisputeAgainstOtherDriverDoesNotHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.route(t, settledLongAgo())
	f.reserve(t, r.ID, "p1", nil)
	require.NoError(t, f.store.SaveDispute(ctx, &models.Dispute{RouteID: r.ID, PassengerID: "p1", DriverID: "someone-else"}))

	report, err := f.a.RunCycle(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Payouts)
}

func TestRunCycle_PaymentFailureLeavesUnresolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.route(t, settledLongAgo())
	res := f.reserve(t, r.ID, "p1", nil)
	f.pay.fail[res.ID] = errors.New("insufficient funds")

	report, err := f.a.RunCycle(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	left, _ := f.store.UnresolvedReservations(ctx, r.ID, "p1")
	assert.Len(t, left, 1)

	delete(f.pay.fail, res.ID)
	report, err = f.a.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Payouts)
	assert.Equal(t, 2, f.pay.count())
}

func TestRunCycle_SkipsRoutesInsideGracePeriod(t *testing.T) {
	f := newFixture(t)
	recent := f.route(t, now.Add(-GracePeriod-time.Hour))
	f.reserve(t, recent.ID, "p1", nil)
	f.route(t, now.Add(time.Hour))

	report, err := f.a.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.RoutesScanned)
	assert.Zero(t, report.RoutesSettable)
	assert.Zero(t, f.pay.count())
}

func TestRunCycle_PicksFirstChargedAcceptedReservation(t *testing.T) {
	f := newFixture(t)
	r := f.route(t, settledLongAgo())
	f.reserve(t, r.ID, "p1", func(res *models.Reservation) { res.ChargeID = "" })
	f.reserve(t, r.ID, "p1", func(res *models.Reservation) {
		res.Status = models.ReservationCancelled
		res.CreatedAt = now.Add(-71 * time.Hour)
	})
	second := f.reserve(t, r.ID, "p1", func(res *models.Reservation) {
		res.Price = 3
		res.CreatedAt = now.Add(-70 * time.Hour)
	})
	f.reserve(t, r.ID, "p1", func(res *models.Reservation) { res.CreatedAt = now.Add(-69 * time.Hour) })

	report, err := f.a.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Payouts)
	require.Len(t, f.pay.calls, 1)
	assert.Equal(t, call{kind: "payout", amount: 300, reference: second.ID}, f.pay.calls[0])
}

func TestRunCycle_NoChargeReferenceDoesNothing(t *testing.T) {
	f := newFixture(t)
	r := f.route(t, settledLongAgo())
	f.reserve(t, r.ID, "p1", func(res *models.Reservation) { res.ChargeID = "" })

	report, err := f.a.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Zero(t, f.pay.count())
	require.Len(t, report.Actions, 1)
	assert.Equal(t, OutcomeNothing, report.Actions[0].Outcome)
}

type failingResolve struct {
	*storage.MemoryStore
}

func (failingResolve) MarkPaymentResolved(ctx context.Context, id string) (bool, error) {
	return false, errors.New("write timeout")
}

func TestRunCycle_ResolveFailureIsUncertain(t *testing.T) {
	f := newFixture(t)
	r := f.route(t, settledLongAgo())
	res := f.reserve(t, r.ID, "p1", nil)
	f.a.Store = failingResolve{f.store}

	report, err := f.a.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{res.ID}, report.Uncertain)
	assert.Zero(t, report.Payouts)
	assert.Equal(t, 1, f.pay.count())
}

func TestRunCycle_OverlappingRunsAreRejected(t *testing.T) {
	f := newFixture(t)
	r := f.route(t, settledLongAgo())
	f.reserve(t, r.ID, "p1", nil)
	f.pay.entered = make(chan struct{}, 1)
	f.pay.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.a.RunCycle(context.Background())
		done <- err
	}()
	<-f.pay.entered

	_, err := f.a.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(f.pay.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.pay.count())
}

type fakeLockStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (s *fakeLockStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}

func (s *fakeLockStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[key] != value {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func TestRunCycle_DistributedLockHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	r := f.route(t, settledLongAgo())
	f.reserve(t, r.ID, "p1", nil)
	ls := &fakeLockStore{values: map[string]string{DefaultLockKey: "other-process"}}
	f.a.Lock = NewRedisLockWithStore(ls, DefaultLockKey, time.Minute)

	_, err := f.a.RunCycle(context.Background())

	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Zero(t, f.pay.count())
	assert.Equal(t, "other-process", ls.values[DefaultLockKey])
}

func TestRunCycle_ReleasesDistributedLock(t *testing.T) {
	f := newFixture(t)
	ls := &fakeLockStore{values: map[string]string{}}
	f.a.Lock = NewRedisLockWithStore(ls, DefaultLockKey, time.Minute)

	_, err := f.a.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ls.values)

	ls.err = errors.New("redis down")
	_, err = f.a.RunCycle(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCycleInProgress)
}

func TestRedisLock_ReleaseIgnoresForeignToken(t *testing.T) {
	ls := &fakeLockStore{values: map[string]string{}}
	l := NewRedisLockWithStore(ls, "k", time.Minute)

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)
	_, err = l.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, l.Release(context.Background(), "stale"))
	assert.Equal(t, token, ls.values["k"])
	require.NoError(t, l.Release(context.Background(), token))
	assert.Empty(t, ls.values)
}
