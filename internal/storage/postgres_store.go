package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/ride-sharing/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

var _ Store = (*PostgresStore)(nil)

const routeColumns = `r.id, r.driver_id, r.vehicle_id, r.departure_date, r.origin, r.destination,
	r.distance, r.estimated_duration, r.price_per_passenger, r.available_seats,
	r.max_luggage, r.details, r.is_cancelled`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoute(row rowScanner) (models.Route, error) {
	var r models.Route
	var luggage string
	err := row.Scan(&r.ID, &r.DriverID, &r.VehicleID, &r.DepartureDate, &r.Origin, &r.Destination,
		&r.Distance, &r.EstimatedDuration, &r.PricePerPassenger, &r.AvailableSeats,
		&luggage, &r.Details, &r.IsCancelled)
	r.MaxLuggage = models.LuggageSize(luggage)
	r.DepartureDate = r.DepartureDate.UTC()
	return r, err
}

func (p *PostgresStore) queryRoutes(ctx context.Context, query string, args ...any) ([]models.Route, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Route, 0)
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, p.attachControlPoints(ctx, out)
}

// attachControlPoints loads the itineraries of routes in a single query.
func (p *PostgresStore) attachControlPoints(ctx context.Context, routes []models.Route) error {
	if len(routes) == 0 {
		return nil
	}
	ids := make([]string, len(routes))
	index := make(map[string]int, len(routes))
	for i, r := range routes {
		ids[i] = r.ID
		index[r.ID] = i
		routes[i].ControlPoints = []models.ControlPoint{}
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT route_id, location, arrival_order, arrival_time, distance, duration
		FROM control_points
		WHERE route_id = ANY($1)
		ORDER BY route_id, arrival_order`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var routeID string
		var cp models.ControlPoint
		if err := rows.Scan(&routeID, &cp.Location, &cp.ArrivalOrder, &cp.ArrivalTime, &cp.Distance, &cp.Duration); err != nil {
			return err
		}
		cp.ArrivalTime = cp.ArrivalTime.UTC()
		i := index[routeID]
		routes[i].ControlPoints = append(routes[i].ControlPoints, cp)
	}
	return rows.Err()
}

func (p *PostgresStore) FindRoute(ctx context.Context, id string) (models.Route, error) {
	routes, err := p.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes r WHERE r.id = $1`, id)
	if err != nil {
		return models.Route{}, err
	}
	if len(routes) == 0 {
		return models.Route{}, models.ErrNotFound
	}
	return routes[0], nil
}

func (p *PostgresStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	return p.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes r ORDER BY r.created_at, r.id`)
}

func (p *PostgresStore) SaveRoute(ctx context.Context, r *models.Route) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO routes (
				id, driver_id, vehicle_id, departure_date, origin, destination,
				distance, estimated_duration, price_per_passenger, available_seats,
				max_luggage, details, is_cancelled
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (id) DO UPDATE SET
				vehicle_id = EXCLUDED.vehicle_id,
				departure_date = EXCLUDED.departure_date,
				origin = EXCLUDED.origin,
				destination = EXCLUDED.destination,
				distance = EXCLUDED.distance,
				estimated_duration = EXCLUDED.estimated_duration,
				price_per_passenger = EXCLUDED.price_per_passenger,
				available_seats = EXCLUDED.available_seats,
				max_luggage = EXCLUDED.max_luggage,
				details = EXCLUDED.details,
				is_cancelled = EXCLUDED.is_cancelled,
				updated_at = NOW()`,
			r.ID, r.DriverID, r.VehicleID, r.DepartureDate, r.Origin, r.Destination,
			r.Distance, r.EstimatedDuration, r.PricePerPassenger, r.AvailableSeats,
			string(r.MaxLuggage), r.Details, r.IsCancelled)
		if err != nil {
			return fmt.Errorf("upsert route: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM control_points WHERE route_id = $1`, r.ID); err != nil {
			return fmt.Errorf("clear control points: %w", err)
		}
		for _, cp := range r.ControlPoints {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO control_points (route_id, location, arrival_order, arrival_time, distance, duration)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				r.ID, cp.Location, cp.ArrivalOrder, cp.ArrivalTime, cp.Distance, cp.Duration); err != nil {
				return fmt.Errorf("insert control point %d: %w", cp.ArrivalOrder, err)
			}
		}
		return nil
	})
}

func (p *PostgresStore) DeleteRoute(ctx context.Context, id string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var reserved bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM reservations WHERE route_id = $1)`, id).Scan(&reserved); err != nil {
			return err
		}
		if reserved {
			return models.ErrConflict
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func (p *PostgresStore) CancelRoute(ctx context.Context, id string) ([]models.Reservation, error) {
	var out []models.Reservation
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE routes SET is_cancelled = TRUE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE reservations SET status = $1
			WHERE route_id = $2 AND status IN ($3, $4)`,
			string(models.ReservationRejected), id,
			string(models.ReservationPending), string(models.ReservationAccepted)); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE route_id = $1 ORDER BY created_at, id`, id)
		if err != nil {
			return err
		}
		out, err = scanReservations(rows)
		return err
	})
	return out, err
}

func (p *PostgresStore) SearchCandidates(ctx context.Context, destination string, seats int, now time.Time) ([]models.Candidate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+routeColumns+`,
			d.id, d.name, d.pets, d.childs, d.smoke, d.music,
			v.id, v.driver_id, v.type, v.seats_capacity
		FROM routes r
		JOIN drivers d ON d.id = r.driver_id
		JOIN vehicles v ON v.id = r.vehicle_id
		WHERE NOT r.is_cancelled
		  AND r.departure_date > $1
		  AND r.available_seats >= $2
		  AND EXISTS (
			SELECT 1 FROM control_points cp
			WHERE cp.route_id = r.id AND strpos(lower(cp.location), lower(trim($3))) > 0
		  )
		ORDER BY r.departure_date, r.id`, now, seats, destination)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cands []models.Candidate
	for rows.Next() {
		var c models.Candidate
		var luggage, vtype string
		if err := rows.Scan(&c.Route.ID, &c.Route.DriverID, &c.Route.VehicleID, &c.Route.DepartureDate,
			&c.Route.Origin, &c.Route.Destination, &c.Route.Distance, &c.Route.EstimatedDuration,
			&c.Route.PricePerPassenger, &c.Route.AvailableSeats, &luggage, &c.Route.Details, &c.Route.IsCancelled,
			&c.Driver.ID, &c.Driver.Name, &c.Driver.Pets, &c.Driver.Childs, &c.Driver.Smoke, &c.Driver.Music,
			&c.Vehicle.ID, &c.Vehicle.DriverID, &vtype, &c.Vehicle.SeatsCapacity); err != nil {
			return nil, err
		}
		c.Route.MaxLuggage = models.LuggageSize(luggage)
		c.Route.DepartureDate = c.Route.DepartureDate.UTC()
		c.Vehicle.Type = models.VehicleType(vtype)
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return []models.Candidate{}, nil
	}

	routes := make([]models.Route, len(cands))
	ids := make([]string, len(cands))
	for i, c := range cands {
		routes[i] = c.Route
		ids[i] = c.Route.ID
	}
	if err := p.attachControlPoints(ctx, routes); err != nil {
		return nil, err
	}
	resRows, err := p.db.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE route_id = ANY($1) ORDER BY created_at, id`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	reservations, err := scanReservations(resRows)
	if err != nil {
		return nil, err
	}
	byRoute := make(map[string][]models.Reservation)
	for _, r := range reservations {
		byRoute[r.RouteID] = append(byRoute[r.RouteID], r)
	}
	for i := range cands {
		cands[i].Route = routes[i]
		cands[i].Reservations = byRoute[routes[i].ID]
	}
	return cands, nil
}

func (p *PostgresStore) StartedRoutes(ctx context.Context, now time.Time) ([]models.Route, error) {
	return p.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes r
		WHERE NOT r.is_cancelled AND r.departure_date <= $1
		ORDER BY r.departure_date, r.id`, now)
}

func (p *PostgresStore) RoutesByPassenger(ctx context.Context, passengerID string) ([]models.Route, error) {
	return p.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes r
		WHERE NOT r.is_cancelled AND EXISTS (
			SELECT 1 FROM reservations res
			WHERE res.route_id = r.id AND res.passenger_id = $1 AND res.status NOT IN ($2, $3)
		)
		ORDER BY r.departure_date, r.id`,
		passengerID, string(models.ReservationCancelled), string(models.ReservationRejected))
}

func (p *PostgresStore) ActiveRoutesByDriver(ctx context.Context, driverID string, now time.Time) ([]models.Route, error) {
	return p.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes r
		WHERE r.driver_id = $1 AND NOT r.is_cancelled
		  AND r.departure_date + r.estimated_duration * INTERVAL '1 minute' > $2
		ORDER BY r.departure_date, r.id`, driverID, now)
}

const reservationColumns = `id, route_id, passenger_id, seats, status, charge_id, price,
	driver_no_picked_me, payment_resolved, created_at`

func scanReservations(rows *sql.Rows) ([]models.Reservation, error) {
	defer rows.Close()
	out := make([]models.Reservation, 0)
	for rows.Next() {
		var r models.Reservation
		var status string
		if err := rows.Scan(&r.ID, &r.RouteID, &r.PassengerID, &r.Seats, &status, &r.ChargeID, &r.Price,
			&r.DriverNoPickedMe, &r.PaymentResolved, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = models.ReservationStatus(status)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) queryReservations(ctx context.Context, where string, args ...any) ([]models.Reservation, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (p *PostgresStore) ReservationsByRoute(ctx context.Context, routeID string) ([]models.Reservation, error) {
	return p.queryReservations(ctx, `route_id = $1`, routeID)
}

func (p *PostgresStore) AcceptedReservations(ctx context.Context, routeID string) ([]models.Reservation, error) {
	return p.queryReservations(ctx, `route_id = $1 AND status = $2`, routeID, string(models.ReservationAccepted))
}

func (p *PostgresStore) UnresolvedReservations(ctx context.Context, routeID, passengerID string) ([]models.Reservation, error) {
	return p.queryReservations(ctx, `route_id = $1 AND passenger_id = $2 AND NOT payment_resolved`, routeID, passengerID)
}

func (p *PostgresStore) MarkPaymentResolved(ctx context.Context, reservationID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE reservations SET payment_resolved = TRUE WHERE id = $1 AND NOT payment_resolved`, reservationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, reservationID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, models.ErrNotFound
	}
	return false, nil
}

func (p *PostgresStore) SaveReservation(ctx context.Context, r *models.Reservation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			seats = EXCLUDED.seats,
			status = EXCLUDED.status,
			charge_id = EXCLUDED.charge_id,
			price = EXCLUDED.price,
			driver_no_picked_me = EXCLUDED.driver_no_picked_me,
			payment_resolved = reservations.payment_resolved OR EXCLUDED.payment_resolved`,
		r.ID, r.RouteID, r.PassengerID, r.Seats, string(r.Status), r.ChargeID, r.Price,
		r.DriverNoPickedMe, r.PaymentResolved, r.CreatedAt)
	return err
}

func (p *PostgresStore) HasDispute(ctx context.Context, routeID, passengerID, driverID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM disputes WHERE route_id = $1 AND passenger_id = $2 AND driver_id = $3
		)`, routeID, passengerID, driverID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) SaveDispute(ctx context.Context, d *models.Dispute) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (id, route_id, passenger_id, driver_id, created_at)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`,
		d.ID, d.RouteID, d.PassengerID, d.DriverID, d.CreatedAt)
	return err
}

func (p *PostgresStore) DeleteDispute(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM disputes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) FindDriver(ctx context.Context, id string) (models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRowContext(ctx, `SELECT id, name, pets, childs, smoke, music FROM drivers WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Pets, &d.Childs, &d.Smoke, &d.Music)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, models.ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers (id, name, pets, childs, smoke, music) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, pets = EXCLUDED.pets,
			childs = EXCLUDED.childs, smoke = EXCLUDED.smoke, music = EXCLUDED.music`,
		d.ID, d.Name, d.Pets, d.Childs, d.Smoke, d.Music)
	return err
}

func (p *PostgresStore) FindVehicle(ctx context.Context, id string) (models.Vehicle, error) {
	var v models.Vehicle
	var vtype string
	err := p.db.QueryRowContext(ctx, `SELECT id, driver_id, type, seats_capacity FROM vehicles WHERE id = $1`, id).
		Scan(&v.ID, &v.DriverID, &vtype, &v.SeatsCapacity)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vehicle{}, models.ErrNotFound
	}
	v.Type = models.VehicleType(vtype)
	return v, err
}

func (p *PostgresStore) SaveVehicle(ctx context.Context, v *models.Vehicle) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, driver_id, type, seats_capacity) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET driver_id = EXCLUDED.driver_id, type = EXCLUDED.type,
			seats_capacity = EXCLUDED.seats_capacity`,
		v.ID, v.DriverID, string(v.Type), v.SeatsCapacity)
	return err
}

func (p *PostgresStore) SaveAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO alerts (id, receiver_id, type, route_id, created_at) VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.ReceiverID, string(a.Type), a.RouteID, a.CreatedAt)
	return err
}

func (p *PostgresStore) AlertsFor(ctx context.Context, receiverID string) ([]models.Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, receiver_id, type, route_id, created_at FROM alerts
		WHERE receiver_id = $1 ORDER BY created_at, id`, receiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Alert, 0)
	for rows.Next() {
		var a models.Alert
		var atype string
		if err := rows.Scan(&a.ID, &a.ReceiverID, &atype, &a.RouteID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = models.AlertType(atype)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
