package drift

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CompareAll compares the trip id sets of both stores, then every trip
// present in both. It returns every report found, joined, or nil.
func (d *Detector) CompareAll(ctx context.Context) error {
	primaryIDs, err := d.trips.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list primary trips: %w", err)
	}
	secondaryIDs, err := d.secondary.TripIDs(ctx)
	if err != nil {
		return fmt.Errorf("list secondary trips: %w", err)
	}

	onlyPrimary, onlySecondary, both := splitIDs(primaryIDs, secondaryIDs)

	var reports []*Report
	for _, id := range onlyPrimary {
		reports = append(reports, &Report{TripID: id, Field: FieldPresence, Primary: present, Secondary: missing})
	}
	for _, id := range onlySecondary {
		reports = append(reports, &Report{TripID: id, Field: FieldPresence, Primary: missing, Secondary: present})
	}

	found, err := d.each(ctx, both, d.compare)
	if err != nil {
		return err
	}
	reports = append(reports, found...)

	return d.summarise(ctx, "trips", reports)
}

// CompareAllPaths compares the path id sets and each path's point count.
// Primary paths with no points have no secondary geometry and are not
// expected on that side.
func (d *Detector) CompareAllPaths(ctx context.Context) error {
	primaryIDs, err := d.paths.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list primary paths: %w", err)
	}
	secondaryIDs, err := d.secondary.PathIDs(ctx)
	if err != nil {
		return fmt.Errorf("list secondary paths: %w", err)
	}

	_, onlySecondary, _ := splitIDs(primaryIDs, secondaryIDs)

	var reports []*Report
	for _, id := range onlySecondary {
		reports = append(reports, &Report{TripID: id, Field: FieldPath, Primary: missing, Secondary: present})
	}

	found, err := d.each(ctx, primaryIDs, d.comparePath)
	if err != nil {
		return err
	}
	reports = append(reports, found...)

	return d.summarise(ctx, "paths", reports)
}

// each runs check over ids with bounded concurrency and collects reports
// in id order.
func (d *Detector) each(ctx context.Context, ids []int64, check func(context.Context, int64) (*Report, error)) ([]*Report, error) {
	var (
		mu      sync.Mutex
		reports []*Report
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			r, err := check(gctx, id)
			if err != nil || r == nil {
				return err
			}
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(reports, func(a, b *Report) int { return cmp.Compare(a.TripID, b.TripID) })
	return reports, nil
}

func (d *Detector) summarise(ctx context.Context, scope string, reports []*Report) error {
	if len(reports) == 0 {
		d.logger.Info().Str("scope", scope).Msg("stores agree")
		return nil
	}

	errs := make([]error, len(reports))
	lines := make([]string, len(reports))
	for i, r := range reports {
		d.logger.Error().
			Int64("trip_id", r.TripID).
			Str("field", r.Field).
			Interface("primary", r.Primary).
			Interface("secondary", r.Secondary).
			Msg("drift detected")
		errs[i] = r
		lines[i] = r.Error()
	}
	if d.alerter != nil {
		_ = d.alerter.NotifyDriftSummary(ctx, scope, lines)
	}
	return errors.Join(errs...)
}

// splitIDs partitions two id lists, keeping the order of each.
func splitIDs(a, b []int64) (onlyA, onlyB, both []int64) {
	inB := make(map[int64]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}
	inA := make(map[int64]bool, len(a))
	for _, id := range a {
		inA[id] = true
		if inB[id] {
			both = append(both, id)
		} else {
			onlyA = append(onlyA, id)
		}
	}
	for _, id := range b {
		if !inA[id] {
			onlyB = append(onlyB, id)
		}
	}
	return onlyA, onlyB, both
}
