package storage

import (
	"context"
	"time"

	"github.com/example/ride-sharing/internal/models"
)

// Store is the persistence collaborator shared by the itinerary builder, the
// matcher and the settlement automaton. Each consumer declares the narrower
// subset it needs; MemoryStore and PostgresStore implement all of it.
type Store interface {
	FindRoute(ctx context.Context, id string) (models.Route, error)
	ListRoutes(ctx context.Context) ([]models.Route, error)
	// SaveRoute inserts or fully replaces a route together with its control
	// points as one atomic unit. An empty ID is assigned on insert.
	SaveRoute(ctx context.Context, r *models.Route) error
	// DeleteRoute physically removes a route; refused with ErrConflict while
	// reservations reference it.
	DeleteRoute(ctx context.Context, id string) error
	// CancelRoute flags the route cancelled and rejects its pending and
	// accepted reservations atomically, returning every reservation of the
	// route after the update.
	CancelRoute(ctx context.Context, id string) ([]models.Reservation, error)

	// SearchCandidates returns non-cancelled routes departing after now with
	// a control point containing destination (case-insensitive) and at least
	// seats available seats, joined with driver, vehicle and reservations.
	SearchCandidates(ctx context.Context, destination string, seats int, now time.Time) ([]models.Candidate, error)
	// StartedRoutes returns non-cancelled routes whose departure is not after now.
	StartedRoutes(ctx context.Context, now time.Time) ([]models.Route, error)
	// RoutesByPassenger returns non-cancelled routes where the passenger holds
	// a reservation that is neither cancelled nor rejected.
	RoutesByPassenger(ctx context.Context, passengerID string) ([]models.Route, error)
	// ActiveRoutesByDriver returns the driver's non-cancelled routes whose
	// scheduled arrival is after now.
	ActiveRoutesByDriver(ctx context.Context, driverID string, now time.Time) ([]models.Route, error)

	ReservationsByRoute(ctx context.Context, routeID string) ([]models.Reservation, error)
	AcceptedReservations(ctx context.Context, routeID string) ([]models.Reservation, error)
	// UnresolvedReservations returns the passenger's reservations on the route
	// whose payment is not yet resolved, oldest first.
	UnresolvedReservations(ctx context.Context, routeID, passengerID string) ([]models.Reservation, error)
	// MarkPaymentResolved sets the resolved latch. It reports false when the
	// reservation was already resolved.
	MarkPaymentResolved(ctx context.Context, reservationID string) (bool, error)
	SaveReservation(ctx context.Context, r *models.Reservation) error

	HasDispute(ctx context.Context, routeID, passengerID, driverID string) (bool, error)
	SaveDispute(ctx context.Context, d *models.Dispute) error
	DeleteDispute(ctx context.Context, id string) error

	FindDriver(ctx context.Context, id string) (models.Driver, error)
	SaveDriver(ctx context.Context, d *models.Driver) error
	FindVehicle(ctx context.Context, id string) (models.Vehicle, error)
	SaveVehicle(ctx context.Context, v *models.Vehicle) error

	SaveAlert(ctx context.Context, a *models.Alert) error
	AlertsFor(ctx context.Context, receiverID string) ([]models.Alert, error)
}
