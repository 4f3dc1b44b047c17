package matcher

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-sharing/internal/models"
)

var dep = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

// candidate builds a route departing at dep whose stops are 30 minutes apart.
func candidate(id string, seats int, stops ...string) models.Candidate {
	r := models.Route{ID: id, DriverID: "d-" + id, DepartureDate: dep, AvailableSeats: seats, MaxLuggage: models.LuggageMedium}
	for i, s := range stops {
		r.ControlPoints = append(r.ControlPoints, models.ControlPoint{
			Location:     s,
			ArrivalOrder: i,
			ArrivalTime:  dep.Add(time.Duration(30*i) * time.Minute),
		})
	}
	return models.Candidate{
		Route:   r,
		Driver:  models.Driver{ID: r.DriverID},
		Vehicle: models.Vehicle{ID: "v-" + id, Type: models.VehicleCar, SeatsCapacity: seats + 1},
	}
}

func ids(cs []models.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Route.ID
	}
	return out
}

func finder(dest string) models.Finder {
	f := models.NewFinder()
	f.Destination = dest
	return f
}

func ptr[T any](v T) *T { return &v }

func TestMatch_FreeSeatsSubtractAccepted(t *testing.T) {
	c := candidate("r1", 4, "Sevilla", "Cádiz")
	c.Reservations = []models.Reservation{
		{Seats: 3, Status: models.ReservationAccepted},
		{Seats: 2, Status: models.ReservationPending},
		{Seats: 2, Status: models.ReservationRejected},
	}
	pool := []models.Candidate{c}

	two := finder("cádiz")
	two.AvailableSeats = 2
	assert.Empty(t, Match(two, pool))

	one := finder("cádiz")
	assert.Equal(t, []string{"r1"}, ids(Match(one, pool)))
}

func TestMatch_MissingDestinationAlwaysExcludes(t *testing.T) {
	c := candidate("r1", 3, "Sevilla", "Cádiz")
	c.Driver = models.Driver{ID: "d", Pets: true, Childs: true, Smoke: true, Music: true}

	f := finder("Huelva")
	assert.Empty(t, Match(f, []models.Candidate{c}))

	f.Origin = "Sevilla"
	f.DepartureDate = ptr(dep)
	assert.Empty(t, Match(f, []models.Candidate{c}))
}

func TestMatch_DestinationIsCaseInsensitiveSubstring(t *testing.T) {
	pool := []models.Candidate{candidate("r1", 3, "Sevilla", "Jerez de la Frontera")}
	assert.Len(t, Match(finder("  JEREZ "), pool), 1)
}

func TestMatch_Preferences(t *testing.T) {
	plain := candidate("plain", 3, "A", "B")
	pets := candidate("pets", 3, "A", "B")
	pets.Driver.Pets = true
	pets.Driver.Music = true
	pool := []models.Candidate{plain, pets}

	assert.Equal(t, []string{"plain", "pets"}, ids(Match(finder("B"), pool)))

	f := finder("B")
	f.Pets = true
	assert.Equal(t, []string{"pets"}, ids(Match(f, pool)))

	f.Smoke = true
	assert.Empty(t, Match(f, pool))
}

func TestMatch_VehicleTypeAndLuggage(t *testing.T) {
	car := candidate("car", 3, "A", "B")
	bike := candidate("bike", 1, "A", "B")
	bike.Vehicle.Type = models.VehicleBike
	bike.Route.MaxLuggage = models.LuggageNothing
	pool := []models.Candidate{car, bike}

	f := finder("B")
	f.VehicleType = ptr(models.VehicleBike)
	assert.Equal(t, []string{"bike"}, ids(Match(f, pool)))

	f = finder("B")
	f.LuggageSize = ptr(models.LuggageSmall)
	assert.Equal(t, []string{"car"}, ids(Match(f, pool)))

	f.LuggageSize = ptr(models.LuggageMedium)
	assert.Equal(t, []string{"car"}, ids(Match(f, pool)))

	f.LuggageSize = ptr(models.LuggageBig)
	assert.Empty(t, Match(f, pool))
}

func TestMatch_ArrivalWindowIsInclusive(t *testing.T) {
	pool := []models.Candidate{candidate("r1", 3, "A", "B", "C")}
	arrival := dep.Add(60 * time.Minute)

	tests := []struct {
		name   string
		target time.Time
		want   int
	}{
		{"exact", arrival, 1},
		{"early bound", arrival.Add(-TimeWindow), 1},
		{"late bound", arrival.Add(TimeWindow), 1},
		{"just outside", arrival.Add(TimeWindow + time.Second), 0},
		{"far", arrival.Add(-2 * time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := finder("C")
			f.ArrivalDate = ptr(tt.target)
			assert.Len(t, Match(f, pool), tt.want)
		})
	}
}

func TestMatch_OriginMustPrecedeDestination(t *testing.T) {
	pool := []models.Candidate{candidate("r1", 3, "Sevilla", "Jerez", "Cádiz")}

	f := finder("Cádiz")
	f.Origin = "Jerez"
	assert.Len(t, Match(f, pool), 1)

	f = finder("Jerez")
	f.Origin = "Cádiz"
	assert.Empty(t, Match(f, pool))

	f = finder("Jerez")
	f.Origin = "Jerez"
	assert.Empty(t, Match(f, pool))

	f = finder("Cádiz")
	f.Origin = "Málaga"
	assert.Empty(t, Match(f, pool))
}

func TestMatch_RepeatedStopUsesLastAsDestination(t *testing.T) {
	// Circular trip: the passenger boards at Utrera and returns to Sevilla.
	pool := []models.Candidate{candidate("loop", 3, "Sevilla", "Utrera", "Sevilla")}

	f := finder("Sevilla")
	f.Origin = "Utrera"
	f.ArrivalDate = ptr(dep.Add(60 * time.Minute))
	assert.Len(t, Match(f, pool), 1)
}

func TestMatch_DepartureWindowAppliesToOrigin(t *testing.T) {
	pool := []models.Candidate{candidate("r1", 3, "Sevilla", "Jerez", "Cádiz")}

	f := finder("Cádiz")
	f.Origin = "Jerez"
	f.DepartureDate = ptr(dep.Add(40 * time.Minute))
	assert.Len(t, Match(f, pool), 1)

	f.DepartureDate = ptr(dep)
	assert.Empty(t, Match(f, pool))

	// Without an origin the departure date imposes nothing.
	f.Origin = ""
	assert.Len(t, Match(f, pool), 1)
}

func TestMatch_OrderIndependent(t *testing.T) {
	pool := []models.Candidate{
		candidate("a", 3, "Sevilla", "Cádiz"),
		candidate("b", 1, "Sevilla", "Huelva"),
		candidate("c", 2, "Málaga", "Cádiz"),
		candidate("d", 5, "Cádiz", "Sevilla"),
		candidate("e", 2, "Jerez", "Cádiz", "Rota"),
	}
	pool[2].Driver.Pets = true
	pool[4].Driver.Pets = true
	f := finder("cádiz")
	f.Pets = true

	want := ids(Match(f, pool))
	require.ElementsMatch(t, []string{"c", "e"}, want)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.Candidate(nil), pool...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.ElementsMatch(t, want, ids(Match(f, shuffled)))
	}
	assert.Equal(t, want, ids(Match(f, pool)))
}

type fakeSource struct {
	pool        []models.Candidate
	err         error
	destination string
	seats       int
	now         time.Time
}

func (f *fakeSource) SearchCandidates(ctx context.Context, destination string, seats int, now time.Time) ([]models.Candidate, error) {
	f.destination, f.seats, f.now = destination, seats, now
	return f.pool, f.err
}

func TestService_SearchAppliesFilterAfterCoarseFetch(t *testing.T) {
	full := candidate("full", 2, "Sevilla", "Cádiz")
	full.Reservations = []models.Reservation{{Seats: 2, Status: models.ReservationAccepted}}
	src := &fakeSource{pool: []models.Candidate{full, candidate("free", 2, "Sevilla", "Cádiz")}}
	now := dep.Add(-24 * time.Hour)
	s := NewService(src, nil)
	s.Now = func() time.Time { return now }

	f := finder("Cádiz")
	f.AvailableSeats = 0
	got, err := s.Search(context.Background(), f)

	require.NoError(t, err)
	assert.Equal(t, []string{"free"}, ids(got))
	assert.Equal(t, "Cádiz", src.destination)
	assert.Equal(t, 1, src.seats)
	assert.Equal(t, now, src.now)
}

func TestService_SearchWrapsStoreError(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewService(&fakeSource{err: boom}, nil)

	_, err := s.Search(context.Background(), finder("Cádiz"))

	assert.ErrorIs(t, err, boom)
}
