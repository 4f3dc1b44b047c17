package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-sharing/internal/itinerary"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
	"github.com/example/ride-sharing/internal/settlement"
	"github.com/example/ride-sharing/internal/storage"
)

type Builder interface {
	Build(ctx context.Context, driverID string, form itinerary.RouteForm) (models.Route, error)
}

type Searcher interface {
	Search(ctx context.Context, f models.Finder) ([]models.Candidate, error)
}

type Settler interface {
	RunCycle(ctx context.Context) (settlement.Report, error)
}

type Notifier interface {
	Notify(ctx context.Context, a models.Alert) error
}

// RouteService is the API the booking layer calls. Every mutating operation
// takes the acting user's ID explicitly.
type RouteService struct {
	Store    storage.Store
	Builder  Builder
	Searcher Searcher
	Settler  Settler
	// Notifier is optional; alerts are always persisted.
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewRouteService(store storage.Store, b Builder, s Searcher, settler Settler, n Notifier, logger *slog.Logger) *RouteService {
	return &RouteService{
		Store:    store,
		Builder:  b,
		Searcher: s,
		Settler:  settler,
		Notifier: n,
		Logger:   logging.OrDiscard(logger),
		Now:      time.Now,
	}
}

// CreateDraftRoute returns an unsaved route carrying the defaults a driver
// starts editing from.
func (s *RouteService) CreateDraftRoute(driverID string) models.Route {
	return models.Route{
		DriverID:          driverID,
		AvailableSeats:    1,
		EstimatedDuration: 1,
		MaxLuggage:        models.LuggageNothing,
		PricePerPassenger: itinerary.BasePrice,
		ControlPoints:     []models.ControlPoint{},
	}
}

func (s *RouteService) SaveRoute(ctx context.Context, driverID string, form itinerary.RouteForm) (models.Route, error) {
	return s.Builder.Build(ctx, driverID, form)
}

func (s *RouteService) FindRoute(ctx context.Context, id string) (models.Route, error) {
	r, err := s.Store.FindRoute(ctx, id)
	if err != nil {
		return models.Route{}, fmt.Errorf("route %s: %w", id, err)
	}
	return r, nil
}

// loadOwned fetches a route and checks that actorID drives it.
func (s *RouteService) loadOwned(ctx context.Context, actorID, routeID string) (models.Route, error) {
	r, err := s.FindRoute(ctx, routeID)
	if err != nil {
		return models.Route{}, err
	}
	if r.DriverID != actorID {
		return models.Route{}, fmt.Errorf("route %s belongs to another driver: %w", routeID, models.ErrForbidden)
	}
	return r, nil
}

// CancelRoute flags the route cancelled, rejects its pending and accepted
// reservations and alerts each passenger once. Only the owner may cancel,
// and only before departure.
func (s *RouteService) CancelRoute(ctx context.Context, actorID, routeID string) (models.Route, error) {
	r, err := s.loadOwned(ctx, actorID, routeID)
	if err != nil {
		return models.Route{}, err
	}
	now := s.Now()
	if r.IsCancelled {
		return models.Route{}, fmt.Errorf("route %s already cancelled: %w", routeID, models.ErrConflict)
	}
	if !r.DepartureDate.After(now) {
		return models.Route{}, fmt.Errorf("route %s already departed: %w", routeID, models.ErrConflict)
	}

	reservations, err := s.Store.CancelRoute(ctx, routeID)
	if err != nil {
		return models.Route{}, fmt.Errorf("cancel route %s: %w", routeID, err)
	}
	r.IsCancelled = true
	observability.RoutesCancelled.Inc()

	notified := make(map[string]bool)
	for _, res := range reservations {
		if notified[res.PassengerID] {
			continue
		}
		notified[res.PassengerID] = true
		a := models.Alert{
			ReceiverID: res.PassengerID,
			Type:       models.AlertRouteCancellation,
			RouteID:    routeID,
			CreatedAt:  now,
		}
		if err := s.Store.SaveAlert(ctx, &a); err != nil {
			return r, fmt.Errorf("save cancellation alert for %s: %w", res.PassengerID, err)
		}
		if s.Notifier != nil {
			// delivery is best effort; the stored alert is the record
			if err := s.Notifier.Notify(ctx, a); err != nil {
				s.Logger.Warn("cancellation alert not delivered", "alert_id", a.ID, "error", err)
			}
		}
	}
	s.Logger.Info("route cancelled", "route_id", routeID, "driver_id", actorID, "passengers_alerted", len(notified))
	return r, nil
}

// DeleteRoute physically removes a route that nobody has reserved.
func (s *RouteService) DeleteRoute(ctx context.Context, actorID, routeID string) error {
	if _, err := s.loadOwned(ctx, actorID, routeID); err != nil {
		return err
	}
	if err := s.Store.DeleteRoute(ctx, routeID); err != nil {
		return fmt.Errorf("delete route %s: %w", routeID, err)
	}
	s.Logger.Info("route deleted", "route_id", routeID, "driver_id", actorID)
	return nil
}

func (s *RouteService) SearchRoutes(ctx context.Context, f models.Finder) ([]models.Candidate, error) {
	return s.Searcher.Search(ctx, f)
}

// CurrentAvailableSeats is the route's seat count minus seats held by
// accepted reservations.
func (s *RouteService) CurrentAvailableSeats(ctx context.Context, routeID string) (int, error) {
	r, err := s.FindRoute(ctx, routeID)
	if err != nil {
		return 0, err
	}
	accepted, err := s.Store.AcceptedReservations(ctx, routeID)
	if err != nil {
		return 0, fmt.Errorf("accepted reservations of %s: %w", routeID, err)
	}
	return r.AvailableSeats - models.AcceptedSeats(accepted), nil
}

// ActiveRoutesByPassenger lists routes the passenger still holds a live
// reservation on and that have not yet arrived.
func (s *RouteService) ActiveRoutesByPassenger(ctx context.Context, passengerID string) ([]models.Route, error) {
	routes, err := s.Store.RoutesByPassenger(ctx, passengerID)
	if err != nil {
		return nil, fmt.Errorf("routes of passenger %s: %w", passengerID, err)
	}
	now := s.Now()
	out := make([]models.Route, 0, len(routes))
	for _, r := range routes {
		if r.ArrivalDate().After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RouteService) ActiveRoutesByDriver(ctx context.Context, driverID string) ([]models.Route, error) {
	routes, err := s.Store.ActiveRoutesByDriver(ctx, driverID, s.Now())
	if err != nil {
		return nil, fmt.Errorf("routes of driver %s: %w", driverID, err)
	}
	return routes, nil
}

func (s *RouteService) RunSettlementCycle(ctx context.Context) (settlement.Report, error) {
	return s.Settler.RunCycle(ctx)
}
