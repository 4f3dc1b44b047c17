package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-sharing/internal/models"
)

// newTestPostgres opens TEST_DATABASE_URL, applies migrations and truncates
// every table. The test is skipped when no database is configured.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = Migrate(ctx, db)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `TRUNCATE alerts, disputes, reservations, control_points, routes, vehicles, drivers`)
	require.NoError(t, err)
	return NewPostgresStoreFromDB(db)
}

func TestPostgresStore_RouteLifecycle(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	dep := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)

	d := &models.Driver{Name: "Luis", Pets: true}
	require.NoError(t, s.SaveDriver(ctx, d))
	v := &models.Vehicle{DriverID: d.ID, Type: models.VehicleCar, SeatsCapacity: 4}
	require.NoError(t, s.SaveVehicle(ctx, v))

	r := &models.Route{
		DriverID: d.ID, VehicleID: v.ID, DepartureDate: dep,
		Origin: "Sevilla", Destination: "Cádiz", Distance: 120.5, EstimatedDuration: 95,
		PricePerPassenger: 13.52, AvailableSeats: 3, MaxLuggage: models.LuggageSmall,
		ControlPoints: []models.ControlPoint{
			{Location: "Sevilla", ArrivalOrder: 0, ArrivalTime: dep},
			{Location: "Jerez", ArrivalOrder: 1, ArrivalTime: dep.Add(60 * time.Minute), Distance: 90, Duration: 60},
			{Location: "Cádiz", ArrivalOrder: 2, ArrivalTime: dep.Add(95 * time.Minute), Distance: 30.5, Duration: 35},
		},
	}
	require.NoError(t, s.SaveRoute(ctx, r))

	got, err := s.FindRoute(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.ControlPoints, 3)
	assert.Equal(t, "Jerez", got.ControlPoints[1].Location)

	r.ControlPoints = r.ControlPoints[:2]
	require.NoError(t, s.SaveRoute(ctx, r))
	got, err = s.FindRoute(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.ControlPoints, 2)

	res := &models.Reservation{RouteID: r.ID, PassengerID: "p1", Seats: 1, Status: models.ReservationAccepted, ChargeID: "ch_1", Price: 13.52}
	require.NoError(t, s.SaveReservation(ctx, res))

	cands, err := s.SearchCandidates(ctx, "jerez", 1, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.True(t, cands[0].Driver.Pets)
	assert.Len(t, cands[0].Reservations, 1)

	ok, err := s.MarkPaymentResolved(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkPaymentResolved(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.DeleteRoute(ctx, r.ID), models.ErrConflict)

	cancelled, err := s.CancelRoute(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, models.ReservationRejected, cancelled[0].Status)
}
