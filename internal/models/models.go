package models

import "time"

type VehicleType string

const (
	VehicleCar  VehicleType = "CAR"
	VehicleBike VehicleType = "BIKE"
)

// LuggageSize is an ordered scale; compare with Rank.
type LuggageSize string

const (
	LuggageNothing LuggageSize = "NOTHING"
	LuggageSmall   LuggageSize = "SMALL"
	LuggageMedium  LuggageSize = "MEDIUM"
	LuggageBig     LuggageSize = "BIG"
)

var luggageRank = map[LuggageSize]int{
	LuggageNothing: 0,
	LuggageSmall:   1,
	LuggageMedium:  2,
	LuggageBig:     3,
}

// Rank returns the position of l on the luggage scale, or -1 when unknown.
func (l LuggageSize) Rank() int {
	if r, ok := luggageRank[l]; ok {
		return r
	}
	return -1
}

func (l LuggageSize) Valid() bool { return l.Rank() >= 0 }

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationAccepted  ReservationStatus = "ACCEPTED"
	ReservationRejected  ReservationStatus = "REJECTED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

type AlertType string

const AlertRouteCancellation AlertType = "ROUTE_CANCELLATION"

type Driver struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Pets   bool   `json:"pets"`
	Childs bool   `json:"childs"`
	Smoke  bool   `json:"smoke"`
	Music  bool   `json:"music"`
}

type Vehicle struct {
	ID            string      `json:"id"`
	DriverID      string      `json:"driver_id"`
	Type          VehicleType `json:"type"`
	SeatsCapacity int         `json:"seats_capacity"`
}

type ControlPoint struct {
	Location     string    `json:"location"`
	ArrivalOrder int       `json:"arrival_order"`
	ArrivalTime  time.Time `json:"arrival_time"`
	Distance     float64   `json:"distance_km"`      // from the previous stop
	Duration     int       `json:"duration_minutes"` // from the previous stop
}

type Route struct {
	ID                string         `json:"id"`
	DriverID          string         `json:"driver_id"`
	VehicleID         string         `json:"vehicle_id"`
	DepartureDate     time.Time      `json:"departure_date"`
	ControlPoints     []ControlPoint `json:"control_points"`
	Origin            string         `json:"origin"`
	Destination       string         `json:"destination"`
	Distance          float64        `json:"distance_km"`
	EstimatedDuration int            `json:"estimated_duration_minutes"`
	PricePerPassenger float64        `json:"price_per_passenger"`
	AvailableSeats    int            `json:"available_seats"`
	MaxLuggage        LuggageSize    `json:"max_luggage"`
	Details           string         `json:"details,omitempty"`
	IsCancelled       bool           `json:"is_cancelled"`
}

// ArrivalDate is the scheduled completion time of the trip.
func (r Route) ArrivalDate() time.Time {
	return r.DepartureDate.Add(time.Duration(r.EstimatedDuration) * time.Minute)
}

type Reservation struct {
	ID               string            `json:"id"`
	RouteID          string            `json:"route_id"`
	PassengerID      string            `json:"passenger_id"`
	Seats            int               `json:"seats"`
	Status           ReservationStatus `json:"status"`
	ChargeID         string            `json:"charge_id,omitempty"`
	Price            float64           `json:"price"`
	DriverNoPickedMe bool              `json:"driver_no_picked_me"`
	PaymentResolved  bool              `json:"payment_resolved"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Finder is a route search request. Zero values impose no constraint, except
// AvailableSeats which is the minimum number of free seats wanted.
type Finder struct {
	Origin         string       `json:"origin,omitempty"`
	Destination    string       `json:"destination"`
	DepartureDate  *time.Time   `json:"departure_date,omitempty"`
	ArrivalDate    *time.Time   `json:"arrival_date,omitempty"`
	AvailableSeats int          `json:"available_seats"`
	Pets           bool         `json:"pets"`
	Childs         bool         `json:"childs"`
	Smoke          bool         `json:"smoke"`
	Music          bool         `json:"music"`
	VehicleType    *VehicleType `json:"vehicle_type,omitempty"`
	LuggageSize    *LuggageSize `json:"luggage_size,omitempty"`
}

func NewFinder() Finder { return Finder{AvailableSeats: 1} }

// Dispute marks a passenger complaint against the driver of a route.
type Dispute struct {
	ID          string    `json:"id"`
	RouteID     string    `json:"route_id"`
	PassengerID string    `json:"passenger_id"`
	DriverID    string    `json:"driver_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Alert struct {
	ID         string    `json:"id"`
	ReceiverID string    `json:"receiver_id"`
	Type       AlertType `json:"type"`
	RouteID    string    `json:"route_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Candidate is a route joined with what the matcher needs to judge it.
type Candidate struct {
	Route        Route         `json:"route"`
	Driver       Driver        `json:"driver"`
	Vehicle      Vehicle       `json:"vehicle"`
	Reservations []Reservation `json:"-"`
}

// AcceptedSeats sums the seats of accepted reservations.
func AcceptedSeats(reservations []Reservation) int {
	n := 0
	for _, r := range reservations {
		if r.Status == ReservationAccepted {
			n += r.Seats
		}
	}
	return n
}
