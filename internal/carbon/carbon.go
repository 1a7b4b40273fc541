// Package carbon estimates the emissions of a trip, in kg CO2e.
package carbon

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"trainlog/internal/domain"
	"trainlog/internal/geo"
)

// Input is what the model needs from a trip.
type Input struct {
	Type         domain.TripType
	TripLength   float64 // meters
	Countries    string  // JSON object keyed by country code
	MaterialType string
	Path         domain.Path
	Passengers   int
}

// FromTrip builds the model input for a trip and the path it will be stored with.
func FromTrip(t *domain.Trip, path domain.Path) Input {
	return Input{
		Type:         t.Type,
		TripLength:   t.TripLength,
		Countries:    t.Countries,
		MaterialType: t.MaterialType,
		Path:         path,
	}
}

// FromRow builds the model input from a secondary-store row.
func FromRow(r *domain.TripRow, path domain.Path) Input {
	in := Input{
		Type:       domain.TripType(r.TripType),
		TripLength: r.TripLength,
		Countries:  r.Countries,
		Path:       path,
	}
	if r.MaterialType != nil {
		in.MaterialType = *r.MaterialType
	}
	return in
}

// Estimator computes a trip's emissions.
type Estimator interface {
	Estimate(in Input) float64
}

// Model is the default Estimator.
type Model struct {
	train map[string]trainFactors
}

// NewModel returns the model with the built-in per-country train factors.
func NewModel() *Model {
	return &Model{train: defaultTrainFactors}
}

var _ Estimator = (*Model)(nil)

// grams per passenger-km
const (
	busConstruction   = 4.42
	busFuel           = 25.0
	busInfrastructure = 0.7
	carConstruction   = 25.6
	carFuel           = 192.0
	carInfrastructure = 0.7
	carExtraPassenger = 0.04
	ferryCombustion   = 80.0
	ferryServices     = 30.0
	ferryConstruction = 11.0
	cycleConstruction = 5.0
	humanFuel         = 16.0
	airShortPerKm     = 0.300 // kg
	airMediumPerKm    = 0.200 // kg
	airLongPerKm      = 0.167 // kg
	airNonCO2Factor   = 1.7
	airDetourFactor   = 1.076
	airShortMaxKm     = 1000
	airMediumMaxKm    = 3500
)

// Estimate returns kg CO2e per passenger. Unknown modes and trips with no
// measurable distance are zero.
func (m *Model) Estimate(in Input) float64 {
	mode := domain.TripType(strings.ToLower(string(in.Type)))
	if mode == domain.TripTypeHelicopter {
		mode = domain.TripTypeAir
	}
	if !mode.Valid() {
		return 0
	}

	km := distanceKm(in, mode)
	if km == 0 {
		return 0
	}

	switch mode {
	case domain.TripTypeAir:
		return air(km)
	case domain.TripTypeTrain:
		return m.trainKg(km, in.Countries, false)
	case domain.TripTypeMetro, domain.TripTypeTram, domain.TripTypeAerialway:
		return m.trainKg(km, in.Countries, true)
	case domain.TripTypeBus:
		return km * (busConstruction + busFuel + busInfrastructure) / 1000
	case domain.TripTypeCar:
		return car(km, in.Passengers)
	case domain.TripTypeFerry:
		return km * (ferryCombustion + ferryServices + ferryConstruction) / 1000
	case domain.TripTypeCycle:
		return km * (cycleConstruction + humanFuel) / 1000
	case domain.TripTypeWalk:
		return km * humanFuel / 1000
	}
	return 0
}

func distanceKm(in Input, mode domain.TripType) float64 {
	if mode == domain.TripTypeAir && len(in.Path) == 2 {
		return geo.Distance(in.Path[0], in.Path[1]) / 1000 * airDetourFactor
	}
	if in.TripLength > 0 {
		return in.TripLength / 1000
	}
	return geo.Length(in.Path) / 1000
}

func air(km float64) float64 {
	perKm := airLongPerKm
	switch {
	case km < airShortMaxKm:
		perKm = airShortPerKm
	case km < airMediumMaxKm:
		perKm = airMediumPerKm
	}
	return km * perKm * airNonCO2Factor
}

func car(km float64, passengers int) float64 {
	if passengers < 1 {
		passengers = 1
	}
	total := km * (carConstruction + carFuel + carInfrastructure)
	if passengers > 1 {
		total += km * carFuel * carExtraPassenger * float64(passengers-1)
	}
	return total / float64(passengers) / 1000
}

type trainFactors struct {
	Infrastructure   float64
	Manufacturing    float64
	ElectricUpstream float64
	DieselFuel       float64
	DieselShare      float64
}

var defaultTrainFactors = map[string]trainFactors{
	"default": {Infrastructure: 3.2, Manufacturing: 1.2, ElectricUpstream: 25, DieselFuel: 75, DieselShare: 0.2},
	"FR":      {Infrastructure: 3.2, Manufacturing: 1.2, ElectricUpstream: 4.5, DieselFuel: 75, DieselShare: 0.1},
	"CH":      {Infrastructure: 3.2, Manufacturing: 1.2, ElectricUpstream: 1.5, DieselFuel: 75, DieselShare: 0.01},
	"DE":      {Infrastructure: 3.2, Manufacturing: 1.2, ElectricUpstream: 32, DieselFuel: 75, DieselShare: 0.15},
	"GB":      {Infrastructure: 3.2, Manufacturing: 1.2, ElectricUpstream: 28, DieselFuel: 75, DieselShare: 0.3},
	"JP":      {Infrastructure: 3.2, Manufacturing: 1.2, ElectricUpstream: 30, DieselFuel: 75, DieselShare: 0.05},
}

func (m *Model) factors(cc string) trainFactors {
	if f, ok := m.train[cc]; ok {
		return f
	}
	return m.train["default"]
}

// trainKg splits the distance per country. Countries map to either total
// meters or an {"electric_m", "diesel_m"} breakdown; a bare total is split
// by the country's diesel share.
func (m *Model) trainKg(km float64, countries string, forceElectric bool) float64 {
	perCountry := map[string]json.RawMessage{}
	if countries != "" {
		_ = json.Unmarshal([]byte(countries), &perCountry)
	}
	if len(perCountry) == 0 {
		g := m.factors("default")
		return km * (g.Infrastructure + g.Manufacturing + g.ElectricUpstream) / 1000
	}

	// Summed in a fixed order so recomputation is bit-for-bit stable.
	codes := slices.Sorted(maps.Keys(perCountry))

	var total float64
	for _, cc := range codes {
		g := m.factors(cc)
		electric, diesel := splitKm(perCountry[cc], g.DieselShare)
		if forceElectric {
			electric, diesel = electric+diesel, 0
		}
		all := electric + diesel
		total += all*(g.Infrastructure+g.Manufacturing) + electric*g.ElectricUpstream + diesel*g.DieselFuel
	}
	return total / 1000
}

func splitKm(raw json.RawMessage, dieselShare float64) (electric, diesel float64) {
	var split struct {
		ElectricM float64 `json:"electric_m"`
		DieselM   float64 `json:"diesel_m"`
	}
	if err := json.Unmarshal(raw, &split); err == nil && (split.ElectricM > 0 || split.DieselM > 0) {
		return split.ElectricM / 1000, split.DieselM / 1000
	}

	var meters float64
	if err := json.Unmarshal(raw, &meters); err != nil {
		return 0, 0
	}
	km := meters / 1000
	diesel = km * dieselShare
	return km - diesel, diesel
}
