package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
	"github.com/example/ride-sharing/internal/payments"
)

// GracePeriod is how long after a trip's scheduled completion passengers
// have to raise a dispute before money moves.
const GracePeriod = 24 * time.Hour

// ErrCycleInProgress is returned when a cycle is already running in this
// process or, with a Lock configured, anywhere else.
var ErrCycleInProgress = errors.New("settlement cycle already in progress")

type Store interface {
	StartedRoutes(ctx context.Context, now time.Time) ([]models.Route, error)
	AcceptedReservations(ctx context.Context, routeID string) ([]models.Reservation, error)
	HasDispute(ctx context.Context, routeID, passengerID, driverID string) (bool, error)
	UnresolvedReservations(ctx context.Context, routeID, passengerID string) ([]models.Reservation, error)
	MarkPaymentResolved(ctx context.Context, reservationID string) (bool, error)
}

type Payments interface {
	Payout(ctx context.Context, amountCents int64, currency, reference string) (payments.Receipt, error)
	Refund(ctx context.Context, chargeID, reference string) (payments.Receipt, error)
}

// Outcome is what happened to one passenger of a settleable route.
type Outcome string

const (
	OutcomePayout    Outcome = "payout"
	OutcomeRefund    Outcome = "refund"
	OutcomeDisputed  Outcome = "disputed"
	OutcomeFailed    Outcome = "failed"
	OutcomeUncertain Outcome = "uncertain"
	// OutcomeNothing: no unresolved reservation with a charge reference.
	OutcomeNothing Outcome = "nothing"
)

type Action struct {
	RouteID       string  `json:"route_id"`
	PassengerID   string  `json:"passenger_id"`
	ReservationID string  `json:"reservation_id,omitempty"`
	Outcome       Outcome `json:"outcome"`
	ReceiptID     string  `json:"receipt_id,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Report summarises one cycle.
type Report struct {
	StartedAt      time.Time `json:"started_at"`
	RoutesScanned  int       `json:"routes_scanned"`
	RoutesSettable int       `json:"routes_settleable"`
	Payouts        int       `json:"payouts"`
	Refunds        int       `json:"refunds"`
	Disputed       int       `json:"disputed"`
	Failed         int       `json:"failed"`
	// Uncertain lists reservations whose payment went through but whose
	// resolved flag could not be written. They need manual reconciliation.
	Uncertain []string `json:"uncertain"`
	Actions   []Action `json:"actions"`
}

func (r *Report) record(a Action) {
	r.Actions = append(r.Actions, a)
	switch a.Outcome {
	case OutcomePayout:
		r.Payouts++
	case OutcomeRefund:
		r.Refunds++
	case OutcomeDisputed:
		r.Disputed++
	case OutcomeFailed:
		r.Failed++
	case OutcomeUncertain:
		r.Uncertain = append(r.Uncertain, a.ReservationID)
	}
	if a.Outcome != OutcomeNothing {
		observability.SettlementActions.WithLabelValues(string(a.Outcome)).Inc()
	}
}

type Automaton struct {
	Store    Store
	Payments Payments
	// Lock is optional; without it cycles are only serialized in-process.
	Lock     Lock
	Currency string
	Logger   *slog.Logger
	Now      func() time.Time

	mu sync.Mutex
}

func NewAutomaton(store Store, pay Payments, lock Lock, currency string, logger *slog.Logger) *Automaton {
	return &Automaton{
		Store:    store,
		Payments: pay,
		Lock:     lock,
		Currency: currency,
		Logger:   logging.OrDiscard(logger),
		Now:      time.Now,
	}
}

// Settleable reports whether r's scheduled completion lies more than
// GracePeriod before now.
func Settleable(r models.Route, now time.Time) bool {
	return now.After(r.ArrivalDate().Add(GracePeriod))
}

// RunCycle settles every settleable route once. Payment failures are
// recorded in the report and left for the next cycle; only storage errors
// while scanning abort the run.
func (a *Automaton) RunCycle(ctx context.Context) (Report, error) {
	if !a.mu.TryLock() {
		observability.SettlementRuns.WithLabelValues("skipped").Inc()
		return Report{}, ErrCycleInProgress
	}
	defer a.mu.Unlock()

	if a.Lock != nil {
		token, err := a.Lock.Acquire(ctx)
		if errors.Is(err, ErrLockHeld) {
			observability.SettlementRuns.WithLabelValues("skipped").Inc()
			return Report{}, ErrCycleInProgress
		}
		if err != nil {
			observability.SettlementRuns.WithLabelValues("error").Inc()
			return Report{}, err
		}
		defer func() {
			// the cycle context may already be cancelled
			if err := a.Lock.Release(context.WithoutCancel(ctx), token); err != nil {
				a.Logger.Warn("settlement lock release failed", "error", err)
			}
		}()
	}

	start := time.Now()
	report, err := a.run(ctx)
	observability.SettlementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SettlementRuns.WithLabelValues("error").Inc()
		a.Logger.Error("settlement cycle aborted", "error", err)
		return report, err
	}
	observability.SettlementRuns.WithLabelValues("ok").Inc()
	a.Logger.Info("settlement cycle finished",
		"routes_scanned", report.RoutesScanned,
		"routes_settleable", report.RoutesSettable,
		"payouts", report.Payouts,
		"refunds", report.Refunds,
		"disputed", report.Disputed,
		"failed", report.Failed,
		"uncertain", len(report.Uncertain),
	)
	return report, nil
}

func (a *Automaton) run(ctx context.Context) (Report, error) {
	now := a.Now()
	report := Report{StartedAt: now}

	routes, err := a.Store.StartedRoutes(ctx, now)
	if err != nil {
		return report, fmt.Errorf("load started routes: %w", err)
	}
	report.RoutesScanned = len(routes)

	for _, r := range routes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !Settleable(r, now) {
			continue
		}
		report.RoutesSettable++
		if err := a.settleRoute(ctx, r, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (a *Automaton) settleRoute(ctx context.Context, r models.Route, report *Report) error {
	accepted, err := a.Store.AcceptedReservations(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("load reservations of route %s: %w", r.ID, err)
	}
	seen := make(map[string]bool)
	for _, res := range accepted {
		if seen[res.PassengerID] {
			continue
		}
		seen[res.PassengerID] = true
		action, err := a.settlePassenger(ctx, r, res.PassengerID)
		if err != nil {
			return err
		}
		report.record(action)
	}
	return nil
}

func (a *Automaton) settlePassenger(ctx context.Context, r models.Route, passengerID string) (Action, error) {
	action := Action{RouteID: r.ID, PassengerID: passengerID}
	log := a.Logger.With("route_id", r.ID, "passenger_id", passengerID)

	disputed, err := a.Store.HasDispute(ctx, r.ID, passengerID, r.DriverID)
	if err != nil {
		return action, fmt.Errorf("dispute lookup for route %s: %w", r.ID, err)
	}
	unresolved, err := a.Store.UnresolvedReservations(ctx, r.ID, passengerID)
	if err != nil {
		return action, fmt.Errorf("unresolved reservations for route %s: %w", r.ID, err)
	}
	res, ok := pick(unresolved)
	if !ok {
		action.Outcome = OutcomeNothing
		return action, nil
	}
	action.ReservationID = res.ID
	log = log.With("reservation_id", res.ID)

	if disputed {
		action.Outcome = OutcomeDisputed
		log.Info("settlement held by dispute")
		return action, nil
	}

	var receipt payments.Receipt
	if res.DriverNoPickedMe {
		action.Outcome = OutcomeRefund
		receipt, err = a.Payments.Refund(ctx, res.ChargeID, res.ID)
	} else {
		action.Outcome = OutcomePayout
		receipt, err = a.Payments.Payout(ctx, models.Cents(res.Price), a.Currency, res.ID)
	}
	if err != nil {
		log.Warn("settlement payment failed; will retry next cycle", "action", action.Outcome, "error", err)
		action.Outcome = OutcomeFailed
		action.Error = err.Error()
		return action, nil
	}
	action.ReceiptID = receipt.ID

	if _, err := a.Store.MarkPaymentResolved(ctx, res.ID); err != nil {
		log.Error("payment issued but reservation not marked resolved",
			"action", action.Outcome,
			"receipt_id", receipt.ID,
			"error", err,
		)
		action.Outcome = OutcomeUncertain
		action.Error = err.Error()
		return action, nil
	}
	log.Info("reservation settled", "action", action.Outcome, "receipt_id", receipt.ID)
	return action, nil
}

// pick returns the first accepted reservation carrying a charge reference.
func pick(unresolved []models.Reservation) (models.Reservation, bool) {
	for _, res := range unresolved {
		if res.Status == models.ReservationAccepted && res.ChargeID != "" {
			return res, true
		}
	}
	return models.Reservation{}, false
}
