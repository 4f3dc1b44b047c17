package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
)

// TimeWindow is the tolerance applied around requested arrival and
// departure dates. Bounds are inclusive.
const TimeWindow = 15 * time.Minute

// Match returns the candidates of pool that satisfy every criterion of f, in
// pool order. It has no side effects and does not depend on pool order.
func Match(f models.Finder, pool []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0)
	for _, c := range pool {
		if matches(f, c) {
			out = append(out, c)
		}
	}
	return out
}

func matches(f models.Finder, c models.Candidate) bool {
	if !preferencesMet(f, c.Driver) {
		return false
	}
	if f.VehicleType != nil && c.Vehicle.Type != *f.VehicleType {
		return false
	}
	if f.LuggageSize != nil && c.Route.MaxLuggage.Rank() < f.LuggageSize.Rank() {
		return false
	}
	if c.Route.AvailableSeats-models.AcceptedSeats(c.Reservations) < f.AvailableSeats {
		return false
	}

	dest, ok := lastContaining(c.Route.ControlPoints, f.Destination)
	if !ok {
		return false
	}
	if f.ArrivalDate != nil && !within(dest.ArrivalTime, *f.ArrivalDate) {
		return false
	}
	if strings.TrimSpace(f.Origin) == "" {
		return true
	}
	origin, ok := firstContaining(c.Route.ControlPoints, f.Origin)
	if !ok || origin.ArrivalOrder >= dest.ArrivalOrder {
		return false
	}
	if f.DepartureDate != nil && !within(origin.ArrivalTime, *f.DepartureDate) {
		return false
	}
	return true
}

// preferencesMet: a requested preference must be supported by the driver.
func preferencesMet(f models.Finder, d models.Driver) bool {
	return (!f.Pets || d.Pets) &&
		(!f.Childs || d.Childs) &&
		(!f.Smoke || d.Smoke) &&
		(!f.Music || d.Music)
}

func contains(location, needle string) bool {
	return strings.Contains(strings.ToLower(location), strings.ToLower(strings.TrimSpace(needle)))
}

// lastContaining picks the stop with the highest arrival order whose location
// contains needle, so a destination that repeats is matched where the trip
// ends.
func lastContaining(cps []models.ControlPoint, needle string) (models.ControlPoint, bool) {
	var best models.ControlPoint
	found := false
	for _, cp := range cps {
		if contains(cp.Location, needle) && (!found || cp.ArrivalOrder > best.ArrivalOrder) {
			best, found = cp, true
		}
	}
	return best, found
}

func firstContaining(cps []models.ControlPoint, needle string) (models.ControlPoint, bool) {
	var best models.ControlPoint
	found := false
	for _, cp := range cps {
		if contains(cp.Location, needle) && (!found || cp.ArrivalOrder < best.ArrivalOrder) {
			best, found = cp, true
		}
	}
	return best, found
}

func within(t, target time.Time) bool {
	return !t.Before(target.Add(-TimeWindow)) && !t.After(target.Add(TimeWindow))
}

// CandidateSource performs the coarse pre-filter: non-cancelled routes
// departing after now that mention destination and have at least seats raw
// available seats.
type CandidateSource interface {
	SearchCandidates(ctx context.Context, destination string, seats int, now time.Time) ([]models.Candidate, error)
}

type Service struct {
	Store  CandidateSource
	Logger *slog.Logger
	Now    func() time.Time
}

func NewService(store CandidateSource, logger *slog.Logger) *Service {
	return &Service{Store: store, Logger: logging.OrDiscard(logger), Now: time.Now}
}

// Search returns the routes matching f among the future, non-cancelled
// routes in storage.
func (s *Service) Search(ctx context.Context, f models.Finder) ([]models.Candidate, error) {
	start := time.Now()
	if f.AvailableSeats < 1 {
		f.AvailableSeats = 1
	}
	pool, err := s.Store.SearchCandidates(ctx, f.Destination, f.AvailableSeats, s.Now())
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	out := Match(f, pool)

	observability.SearchesTotal.Inc()
	observability.SearchResults.Observe(float64(len(out)))
	observability.SearchLatency.Observe(time.Since(start).Seconds())
	s.Logger.Debug("route search",
		"destination", f.Destination,
		"origin", f.Origin,
		"seats", f.AvailableSeats,
		"candidates", len(pool),
		"matches", len(out),
	)
	return out, nil
}
