package engine

import (
	"context"
	"fmt"

	"okrengine/internal/okrstore"
)

// ImportSeed creates the seed's cycle and objectives in one transaction,
// linking parents by seed key. Objectives and the cycle are activated where
// the seed asks for it.
func (s *Service) ImportSeed(ctx context.Context, seed okrstore.Seed, actor string) (okrstore.Cycle, []okrstore.Objective, error) {
	var (
		cycle   okrstore.Cycle
		objs    []okrstore.Objective
		pending []func()
	)
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		objs, pending = nil, nil
		svc := s.bound(tx, &pending)

		settings := seed.Cycle.Settings
		created, err := svc.CreateCycle(ctx, NewCycle{
			CompanyID: seed.Cycle.CompanyID,
			Year:      seed.Cycle.Year,
			Period:    seed.Cycle.Period,
			Name:      seed.Cycle.Name,
			StartDate: seed.Cycle.StartDate,
			EndDate:   seed.Cycle.EndDate,
			Settings:  &settings,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", seed.Source, err)
		}
		cycle = created

		ids := make(map[string]string, len(seed.Objectives))
		for _, so := range seed.OrderByParent() {
			krs := make([]NewKeyResult, 0, len(so.KeyResults))
			for _, kr := range so.KeyResults {
				krs = append(krs, NewKeyResult{
					Title:       kr.Title,
					Description: kr.Description,
					Measure:     kr.Measure,
					Weight:      kr.Weight,
					OwnerID:     kr.OwnerID,
				})
			}
			obj, err := svc.CreateObjective(ctx, NewObjective{
				CycleID:              cycle.ID,
				OwnerID:              so.OwnerID,
				OwnerType:            so.OwnerType,
				OwnerName:            so.OwnerName,
				Level:                so.Level,
				Title:                so.Title,
				Description:          so.Description,
				Category:             so.Category,
				ParentID:             ids[so.Parent],
				StrategicPillarID:    so.StrategicPillarID,
				StrategicObjectiveID: so.StrategicObjectiveID,
				Tags:                 so.Tags,
				Visibility:           so.Visibility,
				IsStretch:            so.Stretch,
				Cadence:              so.Cadence,
				KeyResults:           krs,
				CreatedBy:            actor,
			})
			if err != nil {
				return fmt.Errorf("%s: objective %s: %w", seed.Source, so.Key, err)
			}
			if so.Activate {
				if obj, err = svc.ActivateObjective(ctx, obj.ID, actor); err != nil {
					return fmt.Errorf("%s: objective %s: %w", seed.Source, so.Key, err)
				}
			}
			ids[so.Key] = obj.ID
		}

		if seed.Cycle.Activate {
			if cycle, err = svc.ActivateCycle(ctx, cycle.ID); err != nil {
				return fmt.Errorf("%s: %w", seed.Source, err)
			}
		}
		if cycle, err = svc.rollup(ctx, tx, cycle.ID); err != nil {
			return err
		}
		objs, err = tx.ListObjectives(ctx, okrstore.ObjectiveFilter{CycleID: cycle.ID})
		return err
	})
	if err != nil {
		return okrstore.Cycle{}, nil, err
	}
	for _, fn := range pending {
		fn()
	}
	s.log.Info("seed imported", "source", seed.Source, "cycle", cycle.ID, "objectives", len(objs))
	return cycle, objs, nil
}
