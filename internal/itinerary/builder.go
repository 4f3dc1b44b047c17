package itinerary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
	"github.com/example/ride-sharing/internal/routing"
)

const (
	// MinLeadTime is how far in the future a departure must be when saved.
	MinLeadTime = 15 * time.Minute

	BasePrice       = 1.25
	BaseDistanceKm  = 9.0
	PricePerExtraKm = 0.11
)

// Price is the per-passenger fare for a route of distanceKm: BasePrice
// covers the first BaseDistanceKm, every further km adds PricePerExtraKm.
func Price(distanceKm float64) float64 {
	result := BasePrice
	if distanceKm > BaseDistanceKm {
		result += (distanceKm - BaseDistanceKm) * PricePerExtraKm
	}
	return models.RoundHalfUp(result, 2)
}

type Store interface {
	FindRoute(ctx context.Context, id string) (models.Route, error)
	FindVehicle(ctx context.Context, id string) (models.Vehicle, error)
	SaveRoute(ctx context.Context, r *models.Route) error
}

type Stop struct {
	Location string `json:"location"`
}

// RouteForm is what a driver submits: the ordered stops from origin to
// destination plus the route attributes. ID is set when editing.
type RouteForm struct {
	ID             string             `json:"id,omitempty"`
	VehicleID      string             `json:"vehicle_id"`
	AvailableSeats int                `json:"available_seats"`
	DepartureDate  time.Time          `json:"departure_date"`
	MaxLuggage     models.LuggageSize `json:"max_luggage"`
	Details        string             `json:"details,omitempty"`
	Stops          []Stop             `json:"stops"`
}

type Builder struct {
	Store  Store
	Oracle routing.Oracle
	Logger *slog.Logger
	Now    func() time.Time
}

func NewBuilder(store Store, oracle routing.Oracle, logger *slog.Logger) *Builder {
	return &Builder{Store: store, Oracle: oracle, Logger: logging.OrDiscard(logger), Now: time.Now}
}

// Build validates form on behalf of driverID, computes the itinerary and
// persists the route with its control points. Field violations are returned
// together as a *models.ValidationError and nothing is saved.
func (b *Builder) Build(ctx context.Context, driverID string, form RouteForm) (models.Route, error) {
	start := time.Now()
	now := b.Now()

	var existing *models.Route
	if form.ID != "" {
		r, err := b.Store.FindRoute(ctx, form.ID)
		if err != nil {
			return models.Route{}, fmt.Errorf("load route %s: %w", form.ID, err)
		}
		if r.DriverID != driverID {
			observability.RoutesRejected.WithLabelValues("forbidden").Inc()
			return models.Route{}, fmt.Errorf("route %s belongs to another driver: %w", form.ID, models.ErrForbidden)
		}
		if r.IsCancelled {
			return models.Route{}, fmt.Errorf("route %s is cancelled: %w", form.ID, models.ErrConflict)
		}
		existing = &r
	}

	verr := b.validate(ctx, driverID, form, now)
	if !verr.Empty() {
		observability.RoutesRejected.WithLabelValues("validation").Inc()
		return models.Route{}, verr
	}

	locations := make([]string, len(form.Stops))
	for i, s := range form.Stops {
		locations[i] = strings.TrimSpace(s.Location)
	}
	cps, distance, duration := b.Itinerary(ctx, form.DepartureDate, locations)

	luggage := form.MaxLuggage
	if luggage == "" {
		luggage = models.LuggageNothing
	}
	route := models.Route{
		DriverID:          driverID,
		VehicleID:         form.VehicleID,
		DepartureDate:     form.DepartureDate,
		ControlPoints:     cps,
		Origin:            cps[0].Location,
		Destination:       cps[len(cps)-1].Location,
		Distance:          distance,
		EstimatedDuration: duration,
		PricePerPassenger: Price(distance),
		AvailableSeats:    form.AvailableSeats,
		MaxLuggage:        luggage,
		Details:           form.Details,
	}
	if existing != nil {
		route.ID = existing.ID
	}

	if err := b.Store.SaveRoute(ctx, &route); err != nil {
		return models.Route{}, fmt.Errorf("save route: %w", err)
	}
	observability.RoutesSaved.Inc()
	observability.ItineraryLatency.Observe(time.Since(start).Seconds())
	b.Logger.Info("route saved",
		"route_id", route.ID,
		"driver_id", driverID,
		"stops", len(cps),
		"distance_km", route.Distance,
		"duration_min", route.EstimatedDuration,
		"price", route.PricePerPassenger,
	)
	return route, nil
}

func (b *Builder) validate(ctx context.Context, driverID string, form RouteForm, now time.Time) *models.ValidationError {
	verr := &models.ValidationError{}

	if form.AvailableSeats < 1 {
		verr.Add("availableSeats", "route.error.seatsMin")
	}
	vehicle, err := b.Store.FindVehicle(ctx, form.VehicleID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		verr.Add("vehicle", "route.error.vehicleNotFound")
	case err != nil:
		b.Logger.Error("vehicle lookup failed", "vehicle_id", form.VehicleID, "error", err)
		verr.Add("vehicle", "route.error.vehicleUnavailable")
	default:
		if form.AvailableSeats >= vehicle.SeatsCapacity {
			verr.Add("availableSeats", "route.error.seatsCapacity")
		}
		if vehicle.DriverID != driverID {
			verr.Add("vehicle", "route.error.incorrectVehicle")
		}
	}
	if !form.DepartureDate.After(now.Add(MinLeadTime)) {
		verr.Add("departureDate", "route.error.dateTooSoon")
	}
	if form.MaxLuggage != "" && !form.MaxLuggage.Valid() {
		verr.Add("maxLuggage", "route.error.luggageInvalid")
	}
	if len(form.Stops) < 2 {
		verr.Add("stops", "route.error.stopsMin")
	}
	for i, s := range form.Stops {
		if strings.TrimSpace(s.Location) == "" {
			verr.Add(fmt.Sprintf("stops[%d].location", i), "route.error.locationBlank")
		}
	}
	return verr
}

// Itinerary turns ordered locations into control points, asking the oracle
// once per consecutive pair. A failed lookup contributes a zero leg and is
// logged; it never aborts the build. Returns the control points, the total
// distance in km (2 decimals) and the total duration in minutes.
func (b *Builder) Itinerary(ctx context.Context, departure time.Time, locations []string) ([]models.ControlPoint, float64, int) {
	cps := make([]models.ControlPoint, 0, len(locations))
	var distance float64
	var minutes int
	for i, loc := range locations {
		cp := models.ControlPoint{Location: loc, ArrivalOrder: i}
		if i > 0 {
			leg := b.leg(ctx, locations[i-1], loc)
			cp.Distance = leg.DistanceKm
			cp.Duration = leg.DurationMinutes
			distance += leg.DistanceKm
			minutes += leg.DurationMinutes
		}
		cp.ArrivalTime = departure.Add(time.Duration(minutes) * time.Minute)
		cps = append(cps, cp)
	}
	return cps, models.RoundHalfUp(distance, 2), minutes
}

func (b *Builder) leg(ctx context.Context, origin, destination string) routing.Leg {
	leg, err := b.Oracle.Leg(ctx, origin, destination)
	if err != nil {
		observability.RoutingDegraded.Inc()
		b.Logger.Warn("routing oracle fault; using zero leg",
			"origin", origin,
			"destination", destination,
			"error", err,
		)
		return routing.Leg{}
	}
	if leg.DistanceKm < 0 || leg.DurationMinutes < 0 {
		observability.RoutingDegraded.Inc()
		b.Logger.Warn("routing oracle returned negative leg; using zero leg",
			"origin", origin,
			"destination", destination,
		)
		return routing.Leg{}
	}
	return leg
}
