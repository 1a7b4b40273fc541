package carbon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trainlog/internal/domain"
)

func TestEstimate_PerMode(t *testing.T) {
	m := NewModel()

	cases := []struct {
		name string
		in   Input
		want float64
	}{
		{"bus 100km", Input{Type: domain.TripTypeBus, TripLength: 100_000}, 100 * 30.12 / 1000},
		{"ferry 10km", Input{Type: domain.TripTypeFerry, TripLength: 10_000}, 10 * 121.0 / 1000},
		{"walk 5km", Input{Type: domain.TripTypeWalk, TripLength: 5_000}, 5 * 16.0 / 1000},
		{"cycle 20km", Input{Type: domain.TripTypeCycle, TripLength: 20_000}, 20 * 21.0 / 1000},
		{"car alone 50km", Input{Type: domain.TripTypeCar, TripLength: 50_000}, 50 * 218.3 / 1000},
		{"air short 500km", Input{Type: domain.TripTypeAir, TripLength: 500_000}, 500 * 0.300 * 1.7},
		{"air long 8000km", Input{Type: domain.TripTypeAir, TripLength: 8_000_000}, 8000 * 0.167 * 1.7},
		{"train no countries", Input{Type: domain.TripTypeTrain, TripLength: 100_000}, 100 * (3.2 + 1.2 + 25) / 1000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, m.Estimate(tc.in), 1e-9)
		})
	}
}

func TestEstimate_HelicopterIsAir(t *testing.T) {
	m := NewModel()
	heli := m.Estimate(Input{Type: domain.TripTypeHelicopter, TripLength: 40_000})
	air := m.Estimate(Input{Type: domain.TripTypeAir, TripLength: 40_000})
	assert.Equal(t, air, heli)
}

func TestEstimate_TrainCountrySplit(t *testing.T) {
	m := NewModel()

	// 100 km in France, 10% diesel: 90 km electric, 10 km diesel.
	got := m.Estimate(Input{Type: domain.TripTypeTrain, TripLength: 100_000, Countries: `{"FR": 100000}`})
	want := (100*(3.2+1.2) + 90*4.5 + 10*75) / 1000
	assert.InDelta(t, want, got, 1e-9)

	// Trams never burn diesel.
	tram := m.Estimate(Input{Type: domain.TripTypeTram, TripLength: 100_000, Countries: `{"FR": 100000}`})
	assert.InDelta(t, (100*(3.2+1.2)+100*4.5)/1000, tram, 1e-9)

	explicit := m.Estimate(Input{
		Type:       domain.TripTypeTrain,
		TripLength: 30_000,
		Countries:  `{"DE": {"electric_m": 20000, "diesel_m": 10000}}`,
	})
	assert.InDelta(t, (30*(3.2+1.2)+20*32+10*75)/1000, explicit, 1e-9)
}

func TestEstimate_FallsBackToPathLength(t *testing.T) {
	m := NewModel()
	path := domain.Path{{Lat: 48.8566, Lng: 2.3522}, {Lat: 45.764, Lng: 4.8357}}

	assert.Greater(t, m.Estimate(Input{Type: domain.TripTypeBus, Path: path}), 0.0)
	assert.Zero(t, m.Estimate(Input{Type: domain.TripTypeBus}))
	assert.Zero(t, m.Estimate(Input{Type: "hovercraft", TripLength: 1000}))
}
