package experiment

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps experiments in process. Suitable for tests and single-node dev.
type InMemoryStore struct {
	mu          sync.Mutex
	experiments map[string]Experiment
	assignments map[string]map[string]Assignment
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		experiments: make(map[string]Experiment),
		assignments: make(map[string]map[string]Assignment),
	}
}

func (s *InMemoryStore) CreateExperiment(_ context.Context, exp Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; ok {
		return ErrInvalidExperiment
	}
	s.experiments[exp.ID] = exp.clone()
	return nil
}

func (s *InMemoryStore) GetExperiment(_ context.Context, id string) (Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return Experiment{}, ErrNotFound
	}
	return exp.clone(), nil
}

func (s *InMemoryStore) ListExperiments(_ context.Context, filter ListFilter) ([]Experiment, error) {
	s.mu.Lock()
	out := make([]Experiment, 0, len(s.experiments))
	for _, exp := range s.experiments {
		if filter.ModelType != "" && exp.ModelType != filter.ModelType {
			continue
		}
		if filter.Status != "" && exp.Status != filter.Status {
			continue
		}
		out = append(out, exp.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) UpdateExperiment(_ context.Context, id string, fn func(*Experiment) error) (Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return Experiment{}, ErrNotFound
	}
	next := exp.clone()
	if err := fn(&next); err != nil {
		return Experiment{}, err
	}
	s.experiments[id] = next
	return next.clone(), nil
}

func (s *InMemoryStore) InsertAssignment(_ context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.assignments[a.TestID]
	if !ok {
		byUser = make(map[string]Assignment)
		s.assignments[a.TestID] = byUser
	}
	if _, exists := byUser[a.UserID]; exists {
		return errAssignmentConflict
	}
	byUser[a.UserID] = a
	return nil
}

func (s *InMemoryStore) GetAssignment(_ context.Context, userID, testID string) (Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[testID][userID]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryStore) CountAssignments(_ context.Context, testID string) (map[Variant]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[Variant]int{VariantA: 0, VariantB: 0}
	for _, a := range s.assignments[testID] {
		out[a.Variant]++
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
