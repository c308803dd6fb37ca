package okrstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Documents are held in their encoded
// form so every read hands out an independent copy.
type MemoryStore struct {
	mu   sync.Mutex
	data memData
}

type memDoc struct {
	seq  int64
	body []byte
}

type memData struct {
	next       int64
	cycles     map[string]memDoc
	objectives map[string]memDoc
}

func (d memData) clone() memData {
	out := memData{
		next:       d.next,
		cycles:     make(map[string]memDoc, len(d.cycles)),
		objectives: make(map[string]memDoc, len(d.objectives)),
	}
	for k, v := range d.cycles {
		out.cycles[k] = v
	}
	for k, v := range d.objectives {
		out.objectives[k] = v
	}
	return out
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: memData{
		cycles:     make(map[string]memDoc),
		objectives: make(map[string]memDoc),
	}}
}

func (s *MemoryStore) locked(fn func(v *memView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memView{data: &s.data})
}

func (s *MemoryStore) GetCycle(ctx context.Context, id string) (c Cycle, err error) {
	err = s.locked(func(v *memView) error {
		c, err = v.GetCycle(ctx, id)
		return err
	})
	return c, err
}

func (s *MemoryStore) ListCycles(ctx context.Context, filter CycleFilter) (out []Cycle, err error) {
	err = s.locked(func(v *memView) error {
		out, err = v.ListCycles(ctx, filter)
		return err
	})
	return out, err
}

func (s *MemoryStore) CreateCycle(ctx context.Context, cycle Cycle) error {
	return s.locked(func(v *memView) error { return v.CreateCycle(ctx, cycle) })
}

func (s *MemoryStore) PutCycle(ctx context.Context, cycle Cycle) error {
	return s.locked(func(v *memView) error { return v.PutCycle(ctx, cycle) })
}

func (s *MemoryStore) UpdateCycle(ctx context.Context, id string, mutate func(*Cycle) error) (c Cycle, err error) {
	err = s.Atomically(ctx, func(tx Store) error {
		c, err = tx.UpdateCycle(ctx, id, mutate)
		return err
	})
	return c, err
}

func (s *MemoryStore) DeleteCycle(ctx context.Context, id string) error {
	return s.locked(func(v *memView) error { return v.DeleteCycle(ctx, id) })
}

func (s *MemoryStore) GetObjective(ctx context.Context, id string) (o Objective, err error) {
	err = s.locked(func(v *memView) error {
		o, err = v.GetObjective(ctx, id)
		return err
	})
	return o, err
}

func (s *MemoryStore) ListObjectives(ctx context.Context, filter ObjectiveFilter) (out []Objective, err error) {
	err = s.locked(func(v *memView) error {
		out, err = v.ListObjectives(ctx, filter)
		return err
	})
	return out, err
}

func (s *MemoryStore) CreateObjective(ctx context.Context, obj Objective) error {
	return s.locked(func(v *memView) error { return v.CreateObjective(ctx, obj) })
}

func (s *MemoryStore) PutObjective(ctx context.Context, obj Objective) error {
	return s.locked(func(v *memView) error { return v.PutObjective(ctx, obj) })
}

func (s *MemoryStore) UpdateObjective(ctx context.Context, id string, mutate func(*Objective) error) (o Objective, err error) {
	err = s.Atomically(ctx, func(tx Store) error {
		o, err = tx.UpdateObjective(ctx, id, mutate)
		return err
	})
	return o, err
}

func (s *MemoryStore) DeleteObjective(ctx context.Context, id string) error {
	return s.locked(func(v *memView) error { return v.DeleteObjective(ctx, id) })
}

// Atomically holds the store lock for the duration of fn and restores the
// previous contents if fn fails.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memView{data: &s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// memView implements Store over the data without taking the lock; the
// caller holds it.
type memView struct {
	data *memData
}

func (v *memView) put(m map[string]memDoc, id string, doc any, mustExist, mustNotExist bool, kind string) error {
	existing, exists := m[id]
	if mustExist && !exists {
		return NotFound(kind, id)
	}
	if mustNotExist && exists {
		return fmt.Errorf("%s %q already exists", kind, id)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	seq := existing.seq
	if !exists {
		v.data.next++
		seq = v.data.next
	}
	m[id] = memDoc{seq: seq, body: body}
	return nil
}

func (v *memView) GetCycle(_ context.Context, id string) (Cycle, error) {
	doc, ok := v.data.cycles[id]
	if !ok {
		return Cycle{}, NotFound("cycle", id)
	}
	var c Cycle
	if err := json.Unmarshal(doc.body, &c); err != nil {
		return Cycle{}, fmt.Errorf("decode cycle %s: %w", id, err)
	}
	return c, nil
}

func (v *memView) ListCycles(ctx context.Context, filter CycleFilter) ([]Cycle, error) {
	var out []Cycle
	for _, id := range orderedIDs(v.data.cycles) {
		c, err := v.GetCycle(ctx, id)
		if err != nil {
			return nil, err
		}
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *memView) CreateCycle(_ context.Context, cycle Cycle) error {
	return v.put(v.data.cycles, cycle.ID, cycle, false, true, "cycle")
}

func (v *memView) PutCycle(_ context.Context, cycle Cycle) error {
	return v.put(v.data.cycles, cycle.ID, cycle, true, false, "cycle")
}

func (v *memView) UpdateCycle(ctx context.Context, id string, mutate func(*Cycle) error) (Cycle, error) {
	c, err := v.GetCycle(ctx, id)
	if err != nil {
		return Cycle{}, err
	}
	if err := mutate(&c); err != nil {
		return Cycle{}, err
	}
	c.ID = id
	if err := v.PutCycle(ctx, c); err != nil {
		return Cycle{}, err
	}
	return c, nil
}

func (v *memView) DeleteCycle(_ context.Context, id string) error {
	if _, ok := v.data.cycles[id]; !ok {
		return NotFound("cycle", id)
	}
	delete(v.data.cycles, id)
	return nil
}

func (v *memView) GetObjective(_ context.Context, id string) (Objective, error) {
	doc, ok := v.data.objectives[id]
	if !ok {
		return Objective{}, NotFound("objective", id)
	}
	var o Objective
	if err := json.Unmarshal(doc.body, &o); err != nil {
		return Objective{}, fmt.Errorf("decode objective %s: %w", id, err)
	}
	return o, nil
}

func (v *memView) ListObjectives(ctx context.Context, filter ObjectiveFilter) ([]Objective, error) {
	var out []Objective
	for _, id := range orderedIDs(v.data.objectives) {
		o, err := v.GetObjective(ctx, id)
		if err != nil {
			return nil, err
		}
		if filter.MatchPrimary(o) {
			out = append(out, o)
		}
	}
	return PostFilter(out, filter), nil
}

func (v *memView) CreateObjective(_ context.Context, obj Objective) error {
	return v.put(v.data.objectives, obj.ID, obj, false, true, "objective")
}

func (v *memView) PutObjective(_ context.Context, obj Objective) error {
	return v.put(v.data.objectives, obj.ID, obj, true, false, "objective")
}

func (v *memView) UpdateObjective(ctx context.Context, id string, mutate func(*Objective) error) (Objective, error) {
	o, err := v.GetObjective(ctx, id)
	if err != nil {
		return Objective{}, err
	}
	if err := mutate(&o); err != nil {
		return Objective{}, err
	}
	o.ID = id
	if err := v.PutObjective(ctx, o); err != nil {
		return Objective{}, err
	}
	return o, nil
}

func (v *memView) DeleteObjective(_ context.Context, id string) error {
	if _, ok := v.data.objectives[id]; !ok {
		return NotFound("objective", id)
	}
	delete(v.data.objectives, id)
	return nil
}

func (v *memView) Atomically(_ context.Context, fn func(tx Store) error) error {
	return fn(v)
}

func orderedIDs(m map[string]memDoc) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m[ids[i]].seq < m[ids[j]].seq })
	return ids
}
