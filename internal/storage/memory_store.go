package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/models"
)

// MemoryStore keeps every entity in maps keyed by identifier. Relations are
// foreign-key fields; reads return copies so callers never alias stored data.
type MemoryStore struct {
	mu           sync.RWMutex
	routes       map[string]models.Route
	routeOrder   []string
	reservations map[string]models.Reservation
	resOrder     []string
	drivers      map[string]models.Driver
	vehicles     map[string]models.Vehicle
	disputes     map[string]models.Dispute
	alerts       []models.Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		routes:       make(map[string]models.Route),
		reservations: make(map[string]models.Reservation),
		drivers:      make(map[string]models.Driver),
		vehicles:     make(map[string]models.Vehicle),
		disputes:     make(map[string]models.Dispute),
	}
}

var _ Store = (*MemoryStore)(nil)

func copyRoute(r models.Route) models.Route {
	cps := make([]models.ControlPoint, len(r.ControlPoints))
	copy(cps, r.ControlPoints)
	r.ControlPoints = cps
	return r
}

func (m *MemoryStore) FindRoute(_ context.Context, id string) (models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[id]
	if !ok {
		return models.Route{}, models.ErrNotFound
	}
	return copyRoute(r), nil
}

func (m *MemoryStore) ListRoutes(_ context.Context) ([]models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.routesWhere(func(models.Route) bool { return true }), nil
}

// routesWhere must be called with the lock held.
func (m *MemoryStore) routesWhere(keep func(models.Route) bool) []models.Route {
	out := make([]models.Route, 0)
	for _, id := range m.routeOrder {
		if r := m.routes[id]; keep(r) {
			out = append(out, copyRoute(r))
		}
	}
	return out
}

func (m *MemoryStore) SaveRoute(_ context.Context, r *models.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := m.routes[r.ID]; !exists {
		m.routeOrder = append(m.routeOrder, r.ID)
	}
	m.routes[r.ID] = copyRoute(*r)
	return nil
}

func (m *MemoryStore) DeleteRoute(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[id]; !ok {
		return models.ErrNotFound
	}
	for _, res := range m.reservations {
		if res.RouteID == id {
			return models.ErrConflict
		}
	}
	delete(m.routes, id)
	for i, rid := range m.routeOrder {
		if rid == id {
			m.routeOrder = append(m.routeOrder[:i], m.routeOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) CancelRoute(_ context.Context, id string) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	r.IsCancelled = true
	m.routes[id] = r

	out := make([]models.Reservation, 0)
	for _, rid := range m.resOrder {
		res := m.reservations[rid]
		if res.RouteID != id {
			continue
		}
		if res.Status == models.ReservationPending || res.Status == models.ReservationAccepted {
			res.Status = models.ReservationRejected
			m.reservations[rid] = res
		}
		out = append(out, res)
	}
	return out, nil
}

func (m *MemoryStore) SearchCandidates(_ context.Context, destination string, seats int, now time.Time) ([]models.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dest := strings.ToLower(strings.TrimSpace(destination))
	routes := m.routesWhere(func(r models.Route) bool {
		if r.IsCancelled || !r.DepartureDate.After(now) || r.AvailableSeats < seats {
			return false
		}
		for _, cp := range r.ControlPoints {
			if strings.Contains(strings.ToLower(cp.Location), dest) {
				return true
			}
		}
		return false
	})
	out := make([]models.Candidate, 0, len(routes))
	for _, r := range routes {
		out = append(out, models.Candidate{
			Route:        r,
			Driver:       m.drivers[r.DriverID],
			Vehicle:      m.vehicles[r.VehicleID],
			Reservations: m.reservationsWhere(func(res models.Reservation) bool { return res.RouteID == r.ID }),
		})
	}
	return out, nil
}

func (m *MemoryStore) StartedRoutes(_ context.Context, now time.Time) ([]models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.routesWhere(func(r models.Route) bool {
		return !r.IsCancelled && !r.DepartureDate.After(now)
	}), nil
}

func (m *MemoryStore) RoutesByPassenger(_ context.Context, passengerID string) ([]models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	held := make(map[string]bool)
	for _, res := range m.reservations {
		if res.PassengerID == passengerID &&
			res.Status != models.ReservationCancelled && res.Status != models.ReservationRejected {
			held[res.RouteID] = true
		}
	}
	return m.routesWhere(func(r models.Route) bool { return !r.IsCancelled && held[r.ID] }), nil
}

func (m *MemoryStore) ActiveRoutesByDriver(_ context.Context, driverID string, now time.Time) ([]models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.routesWhere(func(r models.Route) bool {
		return r.DriverID == driverID && !r.IsCancelled && r.ArrivalDate().After(now)
	}), nil
}

// reservationsWhere must be called with the lock held.
func (m *MemoryStore) reservationsWhere(keep func(models.Reservation) bool) []models.Reservation {
	out := make([]models.Reservation, 0)
	for _, id := range m.resOrder {
		if res := m.reservations[id]; keep(res) {
			out = append(out, res)
		}
	}
	return out
}

func (m *MemoryStore) ReservationsByRoute(_ context.Context, routeID string) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reservationsWhere(func(r models.Reservation) bool { return r.RouteID == routeID }), nil
}

func (m *MemoryStore) AcceptedReservations(_ context.Context, routeID string) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reservationsWhere(func(r models.Reservation) bool {
		return r.RouteID == routeID && r.Status == models.ReservationAccepted
	}), nil
}

func (m *MemoryStore) UnresolvedReservations(_ context.Context, routeID, passengerID string) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.reservationsWhere(func(r models.Reservation) bool {
		return r.RouteID == routeID && r.PassengerID == passengerID && !r.PaymentResolved
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkPaymentResolved(_ context.Context, reservationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return false, models.ErrNotFound
	}
	if res.PaymentResolved {
		return false, nil
	}
	res.PaymentResolved = true
	m.reservations[reservationID] = res
	return true, nil
}

func (m *MemoryStore) SaveReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := m.reservations[r.ID]; !exists {
		m.resOrder = append(m.resOrder, r.ID)
	}
	m.reservations[r.ID] = *r
	return nil
}

func (m *MemoryStore) HasDispute(_ context.Context, routeID, passengerID, driverID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.disputes {
		if d.RouteID == routeID && d.PassengerID == passengerID && d.DriverID == driverID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SaveDispute(_ context.Context, d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	m.disputes[d.ID] = *d
	return nil
}

func (m *MemoryStore) DeleteDispute(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.disputes, id)
	return nil
}

func (m *MemoryStore) FindDriver(_ context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, models.ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) FindVehicle(_ context.Context, id string) (models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return models.Vehicle{}, models.ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) SaveVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	m.vehicles[v.ID] = *v
	return nil
}

func (m *MemoryStore) SaveAlert(_ context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *MemoryStore) AlertsFor(_ context.Context, receiverID string) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Alert, 0)
	for _, a := range m.alerts {
		if a.ReceiverID == receiverID {
			out = append(out, a)
		}
	}
	return out, nil
}
