package routing

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"github.com/example/ride-sharing/internal/models"
)

// GoogleMaps resolves legs with the Directions API in driving mode.
type GoogleMaps struct {
	client *maps.Client
}

// NewGoogleMaps creates the oracle with the given API key. Extra client
// options (base URL, HTTP client) are mainly useful in tests.
func NewGoogleMaps(apiKey string, opts ...maps.ClientOption) (*GoogleMaps, error) {
	all := append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleMaps{client: client}, nil
}

func (g *GoogleMaps) Leg(ctx context.Context, origin, destination string) (Leg, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return Leg{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 || routes[0].Legs[0] == nil {
		return Leg{}, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return Leg{
		DistanceKm:      models.RoundHalfUp(float64(leg.Distance.Meters)/1000, 2),
		DurationMinutes: int(leg.Duration / time.Minute),
	}, nil
}
