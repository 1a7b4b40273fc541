package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TripType is the transport mode of a trip.
type TripType string

const (
	TripTypeTrain      TripType = "train"
	TripTypeBus        TripType = "bus"
	TripTypeAir        TripType = "air"
	TripTypeHelicopter TripType = "helicopter"
	TripTypeFerry      TripType = "ferry"
	TripTypeCycle      TripType = "cycle"
	TripTypeWalk       TripType = "walk"
	TripTypeMetro      TripType = "metro"
	TripTypeTram       TripType = "tram"
	TripTypeAerialway  TripType = "aerialway"
	TripTypeCar        TripType = "car"
)

// Valid reports whether t is a mode trips can be logged with.
func (t TripType) Valid() bool {
	switch t {
	case TripTypeTrain, TripTypeBus, TripTypeAir, TripTypeHelicopter, TripTypeFerry,
		TripTypeCycle, TripTypeWalk, TripTypeMetro, TripTypeTram, TripTypeAerialway, TripTypeCar:
		return true
	}
	return false
}

// Visibility controls who may see a trip.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityFriends Visibility = "friends"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityFriends || v == VisibilityPrivate
}

// Point is a (latitude, longitude) pair. It serialises as [lat, lng].
type Point struct {
	Lat float64
	Lng float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lng})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("point needs 2 coordinates, got %d", len(pair))
	}
	p.Lat, p.Lng = pair[0], pair[1]
	return nil
}

// Path is the ordered geographic trace of one trip.
type Path []Point

// Clone returns an independent copy.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Trip is the primary domain entity, as held by the primary store.
type Trip struct {
	ID                    int64      `json:"trip_id"`
	Username              string     `json:"username"`
	UserID                int64      `json:"user_id"`
	OriginStation         string     `json:"origin_station"`
	DestinationStation    string     `json:"destination_station"`
	Start                 DateBound  `json:"start_datetime"`
	End                   DateBound  `json:"end_datetime"`
	UTCStart              *time.Time `json:"utc_start_datetime,omitempty"`
	UTCEnd                *time.Time `json:"utc_end_datetime,omitempty"`
	TripLength            float64    `json:"trip_length"`
	EstimatedTripDuration float64    `json:"estimated_trip_duration"`
	ManualTripDuration    *float64   `json:"manual_trip_duration,omitempty"`
	Operator              string     `json:"operator"`
	Countries             string     `json:"countries"`
	LineName              string     `json:"line_name"`
	Created               time.Time  `json:"created"`
	LastModified          time.Time  `json:"last_modified"`
	Type                  TripType   `json:"type"`
	MaterialType          string     `json:"material_type"`
	Seat                  string     `json:"seat"`
	Reg                   string     `json:"reg"`
	Waypoints             string     `json:"waypoints"`
	Notes                 string     `json:"notes"`
	Price                 *float64   `json:"price,omitempty"`
	Currency              string     `json:"currency"`
	PurchaseDate          *time.Time `json:"purchasing_date,omitempty"`
	TicketID              *int64     `json:"ticket_id,omitempty"`
	Visibility            Visibility `json:"visibility"`
	Path                  Path       `json:"path"`
	Carbon                *float64   `json:"carbon,omitempty"`
}

// IsProject reports whether the trip is planned but not yet dated.
func (t *Trip) IsProject() bool {
	return t.Start.Kind == DateUnknownFuture || t.End.Kind == DateUnknownFuture
}

// Duplicate copies every field except the identity. The path is copied,
// not shared.
func (t *Trip) Duplicate() *Trip {
	dup := *t
	dup.ID = 0
	dup.UTCStart = clonePtr(t.UTCStart)
	dup.UTCEnd = clonePtr(t.UTCEnd)
	dup.ManualTripDuration = clonePtr(t.ManualTripDuration)
	dup.Price = clonePtr(t.Price)
	dup.PurchaseDate = clonePtr(t.PurchaseDate)
	dup.TicketID = clonePtr(t.TicketID)
	dup.Carbon = clonePtr(t.Carbon)
	dup.Path = t.Path.Clone()
	return &dup
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// TripRow is a trip in the secondary store's shape: unknown dates are
// NULL with is_project derived from them, optional text is NULL rather
// than empty, and the derived carbon value is carried.
type TripRow struct {
	TripID                int64      `json:"trip_id"`
	UserID                int64      `json:"user_id"`
	OriginStation         string     `json:"origin_station"`
	DestinationStation    string     `json:"destination_station"`
	StartDatetime         *time.Time `json:"start_datetime"`
	EndDatetime           *time.Time `json:"end_datetime"`
	IsProject             bool       `json:"is_project"`
	UTCStartDatetime      *time.Time `json:"utc_start_datetime"`
	UTCEndDatetime        *time.Time `json:"utc_end_datetime"`
	EstimatedTripDuration float64    `json:"estimated_trip_duration"`
	ManualTripDuration    *float64   `json:"manual_trip_duration"`
	TripLength            float64    `json:"trip_length"`
	Operator              *string    `json:"operator"`
	Countries             string     `json:"countries"`
	LineName              *string    `json:"line_name"`
	Created               time.Time  `json:"created"`
	LastModified          time.Time  `json:"last_modified"`
	TripType              string     `json:"trip_type"`
	MaterialType          *string    `json:"material_type"`
	Seat                  *string    `json:"seat"`
	Reg                   *string    `json:"reg"`
	Waypoints             *string    `json:"waypoints"`
	Notes                 *string    `json:"notes"`
	Price                 *float64   `json:"price"`
	Currency              string     `json:"currency"`
	TicketID              *int64     `json:"ticket_id"`
	PurchaseDate          *time.Time `json:"purchase_date"`
	Carbon                *float64   `json:"carbon"`
	Visibility            string     `json:"visibility"`
}

// Row maps the trip to its secondary-store representation.
func (t *Trip) Row() TripRow {
	return TripRow{
		TripID:                t.ID,
		UserID:                t.UserID,
		OriginStation:         t.OriginStation,
		DestinationStation:    t.DestinationStation,
		StartDatetime:         t.Start.Ptr(),
		EndDatetime:           t.End.Ptr(),
		IsProject:             t.IsProject(),
		UTCStartDatetime:      clonePtr(t.UTCStart),
		UTCEndDatetime:        clonePtr(t.UTCEnd),
		EstimatedTripDuration: t.EstimatedTripDuration,
		ManualTripDuration:    clonePtr(t.ManualTripDuration),
		TripLength:            t.TripLength,
		Operator:              nullIfEmpty(t.Operator),
		Countries:             t.Countries,
		LineName:              nullIfEmpty(t.LineName),
		Created:               t.Created,
		LastModified:          t.LastModified,
		TripType:              string(t.Type),
		MaterialType:          nullIfEmpty(t.MaterialType),
		Seat:                  nullIfEmpty(t.Seat),
		Reg:                   nullIfEmpty(t.Reg),
		Waypoints:             nullIfEmpty(t.Waypoints),
		Notes:                 nullIfEmpty(t.Notes),
		Price:                 clonePtr(t.Price),
		Currency:              t.Currency,
		TicketID:              clonePtr(t.TicketID),
		PurchaseDate:          clonePtr(t.PurchaseDate),
		Carbon:                clonePtr(t.Carbon),
		Visibility:            string(t.Visibility),
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PathGeometry is a path in the secondary store's native form.
type PathGeometry struct {
	TripID int64
	WKT    string
}
