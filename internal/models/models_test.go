package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestLuggageRankIsOrdered(t *testing.T) {
	scale := []LuggageSize{LuggageNothing, LuggageSmall, LuggageMedium, LuggageBig}
	for i := 1; i < len(scale); i++ {
		if scale[i].Rank() <= scale[i-1].Rank() {
			t.Fatalf("%s should rank above %s", scale[i], scale[i-1])
		}
	}
	if LuggageSize("HUGE").Valid() {
		t.Fatalf("unknown size should be invalid")
	}
}

func TestAcceptedSeatsIgnoresOtherStatuses(t *testing.T) {
	rs := []Reservation{
		{Seats: 2, Status: ReservationAccepted},
		{Seats: 1, Status: ReservationPending},
		{Seats: 3, Status: ReservationRejected},
		{Seats: 1, Status: ReservationAccepted},
	}
	if got := AcceptedSeats(rs); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestRouteArrivalDate(t *testing.T) {
	dep := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	r := Route{DepartureDate: dep, EstimatedDuration: 90}
	if !r.ArrivalDate().Equal(dep.Add(90 * time.Minute)) {
		t.Fatalf("unexpected arrival %v", r.ArrivalDate())
	}
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	verr := &ValidationError{}
	verr.Add("availableSeats", "route.error.seatsCapacity")
	err := fmt.Errorf("save route: %w", verr)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected errors.Is ErrValidation")
	}
	var target *ValidationError
	if !errors.As(err, &target) || !target.HasField("availableSeats") {
		t.Fatalf("expected field error to survive wrapping")
	}
}
