package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"okrengine/internal/alignment"
	"okrengine/internal/analytics"
	"okrengine/internal/okrstore"
)

// BuildTree returns the alignment forest of a cycle. Integrity problems are
// reported on the tree and logged; stored pointers are never changed.
func (s *Service) BuildTree(ctx context.Context, cycleID string) (alignment.Tree, error) {
	if _, err := s.store.GetCycle(ctx, cycleID); err != nil {
		return alignment.Tree{}, err
	}
	objs, err := s.store.ListObjectives(ctx, okrstore.ObjectiveFilter{CycleID: cycleID})
	if err != nil {
		return alignment.Tree{}, fmt.Errorf("list objectives: %w", err)
	}
	tree := alignment.Build(objs)
	for _, w := range tree.Warnings {
		s.log.Warn("alignment integrity", "cycle", cycleID, "kind", w.Kind, "objective", w.ObjectiveID, "related", w.RelatedID)
	}
	return tree, nil
}

// ComputeAnalytics summarizes the objectives of a cycle as of now.
func (s *Service) ComputeAnalytics(ctx context.Context, cycleID string) (analytics.Analytics, error) {
	if _, err := s.store.GetCycle(ctx, cycleID); err != nil {
		return analytics.Analytics{}, err
	}
	objs, err := s.store.ListObjectives(ctx, okrstore.ObjectiveFilter{CycleID: cycleID})
	if err != nil {
		return analytics.Analytics{}, fmt.Errorf("list objectives: %w", err)
	}
	return analytics.Compute(cycleID, objs, s.now(), s.staleAfter), nil
}

// CompanyAnalytics computes analytics for every cycle of a company, in the
// order ListCycles returns them.
func (s *Service) CompanyAnalytics(ctx context.Context, companyID string) ([]analytics.Analytics, error) {
	cycles, err := s.store.ListCycles(ctx, okrstore.CycleFilter{CompanyID: companyID})
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}

	results := make([]analytics.Analytics, len(cycles))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range cycles {
		i, c := i, c // per-iteration copies for go 1.21 loop semantics
		g.Go(func() error {
			a, err := s.ComputeAnalytics(gctx, c.ID)
			if err != nil {
				return fmt.Errorf("cycle %s: %w", c.ID, err)
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
