// Package drift checks that the primary and secondary stores hold the same
// trips. It reads both sides cold, normalises the primary row into the
// secondary shape and reports the first field that differs.
package drift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trainlog/internal/domain"
	"trainlog/internal/repository"
)

// TimeTolerance is how far apart two timestamps may be and still match.
const TimeTolerance = time.Second

// Fields reported when a whole record is on one side only.
const (
	FieldPresence   = "presence"
	FieldPath       = "path"
	FieldPathPoints = "path_points"
)

const (
	present = "present"
	missing = "missing"
)

// Report names the first diverging field of one trip.
type Report struct {
	TripID    int64
	Field     string
	Primary   any
	Secondary any
}

func (r *Report) Error() string {
	return fmt.Sprintf("trip %d drifted on %s: primary=%v secondary=%v",
		r.TripID, r.Field, display(r.Primary), display(r.Secondary))
}

// TripReader reads trips from the primary store.
type TripReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Trip, error)
	IDs(ctx context.Context) ([]int64, error)
}

// PathReader reads paths from the primary path store.
type PathReader interface {
	Get(ctx context.Context, tripID int64) (domain.Path, error)
	IDs(ctx context.Context) ([]int64, error)
}

// Alerter is told about every drift found.
type Alerter interface {
	NotifyDrift(ctx context.Context, tripID int64, field string, primary, secondary any) error
	NotifyDriftSummary(ctx context.Context, scope string, lines []string) error
}

// Detector compares trips between the stores.
type Detector struct {
	trips       TripReader
	paths       PathReader
	secondary   repository.SecondaryStore
	alerter     Alerter
	logger      zerolog.Logger
	concurrency int
}

// NewDetector creates a Detector. trips and paths must read through
// connections other than the write handles so every check is a fresh read.
func NewDetector(trips TripReader, paths PathReader, secondary repository.SecondaryStore, alerter Alerter, logger zerolog.Logger) *Detector {
	return &Detector{
		trips:       trips,
		paths:       paths,
		secondary:   secondary,
		alerter:     alerter,
		logger:      logger.With().Str("component", "drift").Logger(),
		concurrency: 8,
	}
}

// CompareTrip checks one trip. It returns a *Report when the stores differ,
// after logging and alerting it, and nil when they agree, including when
// the trip is absent from both.
func (d *Detector) CompareTrip(ctx context.Context, id int64) error {
	report, err := d.compare(ctx, id)
	if err != nil {
		return err
	}
	if report == nil {
		return nil
	}
	d.raise(ctx, report)
	return report
}

func (d *Detector) raise(ctx context.Context, r *Report) {
	d.logger.Error().
		Int64("trip_id", r.TripID).
		Str("field", r.Field).
		Interface("primary", r.Primary).
		Interface("secondary", r.Secondary).
		Msg("drift detected")
	if d.alerter != nil {
		_ = d.alerter.NotifyDrift(ctx, r.TripID, r.Field, r.Primary, r.Secondary)
	}
}

func (d *Detector) compare(ctx context.Context, id int64) (*Report, error) {
	var (
		trip *domain.Trip
		row  *domain.TripRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trip, err = d.trips.GetByID(gctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("read primary trip %d: %w", id, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		row, err = d.secondary.GetTrip(gctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("read secondary trip %d: %w", id, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	switch {
	case trip == nil && row == nil:
		return nil, nil
	case trip == nil:
		return &Report{TripID: id, Field: FieldPresence, Primary: missing, Secondary: present}, nil
	case row == nil:
		return &Report{TripID: id, Field: FieldPresence, Primary: present, Secondary: missing}, nil
	}

	want := trip.Row()
	if r := compareRows(&want, row); r != nil {
		return r, nil
	}
	return d.comparePath(ctx, id)
}

// comparePath checks the primary path against the secondary geometry by
// point count. A path with no points has no geometry.
func (d *Detector) comparePath(ctx context.Context, id int64) (*Report, error) {
	var (
		path        domain.Path
		pathMissing bool
		n           int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		path, err = d.paths.Get(gctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			pathMissing = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("read primary path %d: %w", id, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		n, err = d.secondary.PathPointCount(gctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			n, err = 0, nil
		}
		if err != nil {
			return fmt.Errorf("read secondary path %d: %w", id, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if pathMissing {
		return &Report{TripID: id, Field: FieldPath, Primary: missing, Secondary: nil}, nil
	}

	if len(path) != n {
		return &Report{TripID: id, Field: FieldPathPoints, Primary: len(path), Secondary: n}, nil
	}
	return nil, nil
}

// compareRows walks every column both stores hold. carbon is derived on the
// secondary side only and is not compared.
func compareRows(p, s *domain.TripRow) *Report {
	check := func(field string, pv, sv any, equal bool) *Report {
		if equal {
			return nil
		}
		return &Report{TripID: p.TripID, Field: field, Primary: pv, Secondary: sv}
	}

	checks := []func() *Report{
		func() *Report { return check("user_id", p.UserID, s.UserID, p.UserID == s.UserID) },
		func() *Report {
			return check("origin_station", p.OriginStation, s.OriginStation, p.OriginStation == s.OriginStation)
		},
		func() *Report {
			return check("destination_station", p.DestinationStation, s.DestinationStation, p.DestinationStation == s.DestinationStation)
		},
		timeCheck(p.TripID, "start_datetime", p.StartDatetime, s.StartDatetime),
		timeCheck(p.TripID, "end_datetime", p.EndDatetime, s.EndDatetime),
		func() *Report { return check("is_project", p.IsProject, s.IsProject, p.IsProject == s.IsProject) },
		timeCheck(p.TripID, "utc_start_datetime", p.UTCStartDatetime, s.UTCStartDatetime),
		timeCheck(p.TripID, "utc_end_datetime", p.UTCEndDatetime, s.UTCEndDatetime),
		func() *Report {
			return check("estimated_trip_duration", p.EstimatedTripDuration, s.EstimatedTripDuration,
				p.EstimatedTripDuration == s.EstimatedTripDuration)
		},
		ptrCheck(p.TripID, "manual_trip_duration", p.ManualTripDuration, s.ManualTripDuration),
		func() *Report { return check("trip_length", p.TripLength, s.TripLength, p.TripLength == s.TripLength) },
		ptrCheck(p.TripID, "operator", p.Operator, s.Operator),
		func() *Report { return check("countries", p.Countries, s.Countries, p.Countries == s.Countries) },
		ptrCheck(p.TripID, "line_name", p.LineName, s.LineName),
		timeCheck(p.TripID, "created", &p.Created, &s.Created),
		timeCheck(p.TripID, "last_modified", &p.LastModified, &s.LastModified),
		func() *Report { return check("trip_type", p.TripType, s.TripType, p.TripType == s.TripType) },
		ptrCheck(p.TripID, "material_type", p.MaterialType, s.MaterialType),
		ptrCheck(p.TripID, "seat", p.Seat, s.Seat),
		ptrCheck(p.TripID, "reg", p.Reg, s.Reg),
		ptrCheck(p.TripID, "waypoints", p.Waypoints, s.Waypoints),
		ptrCheck(p.TripID, "notes", p.Notes, s.Notes),
		ptrCheck(p.TripID, "price", p.Price, s.Price),
		func() *Report { return check("currency", p.Currency, s.Currency, p.Currency == s.Currency) },
		ptrCheck(p.TripID, "ticket_id", p.TicketID, s.TicketID),
		timeCheck(p.TripID, "purchase_date", p.PurchaseDate, s.PurchaseDate),
		func() *Report { return check("visibility", p.Visibility, s.Visibility, p.Visibility == s.Visibility) },
	}

	for _, c := range checks {
		if r := c(); r != nil {
			return r
		}
	}
	return nil
}

func timeCheck(id int64, field string, p, s *time.Time) func() *Report {
	return func() *Report {
		if SameTime(p, s) {
			return nil
		}
		return &Report{TripID: id, Field: field, Primary: deref(p), Secondary: deref(s)}
	}
}

func ptrCheck[T comparable](id int64, field string, p, s *T) func() *Report {
	return func() *Report {
		switch {
		case p == nil && s == nil:
			return nil
		case p != nil && s != nil && *p == *s:
			return nil
		}
		return &Report{TripID: id, Field: field, Primary: deref(p), Secondary: deref(s)}
	}
}

// SameTime reports whether two optional timestamps match within
// TimeTolerance. Both absent match; one absent never does.
func SameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= TimeTolerance
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func display(v any) any {
	if v == nil {
		return "NULL"
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return v
}
