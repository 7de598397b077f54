// Package dbfake provides in-memory implementations of the pulse store, tenant
// directory and society registry. Apply holds a single lock for the whole
// read-compute-write, which gives the same per-row atomicity as the
// PostgreSQL store's SELECT ... FOR UPDATE.
package dbfake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"

	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	idb "pulse_tracker/internal/infra/database"
)

type rowKey struct {
	societyID int64
	date      time.Time
}

// Store is an in-memory pulse.Store.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[tenant.SchemaRef]map[rowKey]*pulse.Pulse
	dropped   map[tenant.SchemaRef]bool
	clock     quartz.Clock
	failApply func(schema tenant.SchemaRef, societyID int64) error
	failList  func(schema tenant.SchemaRef) error
}

// NewStore returns an empty store. clock stamps created_at/updated_at; nil means the real clock.
func NewStore(clock quartz.Clock) *Store {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Store{
		rows:    make(map[tenant.SchemaRef]map[rowKey]*pulse.Pulse),
		dropped: make(map[tenant.SchemaRef]bool),
		clock:   clock,
	}
}

// FailApply makes Apply return the error produced by fn, when non-nil.
func (s *Store) FailApply(fn func(schema tenant.SchemaRef, societyID int64) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failApply = fn
}

// FailList makes every list call return the error produced by fn, when non-nil.
func (s *Store) FailList(fn func(schema tenant.SchemaRef) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failList = fn
}

// DropSchema simulates a tenant schema disappearing.
func (s *Store) DropSchema(schema tenant.SchemaRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[schema] = true
	delete(s.rows, schema)
}

// Put stores p as is, bypassing transitions. Used to seed fixtures.
func (s *Store) Put(schema tenant.SchemaRef, p *pulse.Pulse) *pulse.Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := p.Clone()
	if existing := s.table(schema)[rowKey{stored.SocietyID, stored.PulseDate}]; existing != nil {
		stored.ID = existing.ID
	} else {
		s.nextID++
		stored.ID = s.nextID
	}
	s.table(schema)[rowKey{stored.SocietyID, stored.PulseDate}] = stored
	return stored.Clone()
}

// Rows returns a copy of every row of schema ordered by date then society.
func (s *Store) Rows(schema tenant.SchemaRef) []*pulse.Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(schema, func(*pulse.Pulse) bool { return true })
}

func (s *Store) table(schema tenant.SchemaRef) map[rowKey]*pulse.Pulse {
	t, ok := s.rows[schema]
	if !ok {
		t = make(map[rowKey]*pulse.Pulse)
		s.rows[schema] = t
	}
	return t
}

func (s *Store) filter(schema tenant.SchemaRef, keep func(*pulse.Pulse) bool) []*pulse.Pulse {
	out := make([]*pulse.Pulse, 0)
	for _, p := range s.rows[schema] {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PulseDate.Equal(out[j].PulseDate) {
			return out[i].PulseDate.Before(out[j].PulseDate)
		}
		return out[i].SocietyID < out[j].SocietyID
	})
	return out
}

func (s *Store) checkSchema(schema tenant.SchemaRef) error {
	if s.dropped[schema] {
		return idb.ErrTenantSchemaNotFound
	}
	return nil
}

func (s *Store) Apply(ctx context.Context, schema tenant.SchemaRef, societyID int64, date time.Time, fn pulse.MutateFunc) (*pulse.Pulse, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSchema(schema); err != nil {
		return nil, false, err
	}
	if s.failApply != nil {
		if err := s.failApply(schema, societyID); err != nil {
			return nil, false, err
		}
	}

	key := rowKey{societyID, date}
	current := s.table(schema)[key]
	next, err := fn(current.Clone())
	if err != nil {
		return nil, false, err
	}
	if next == nil {
		return current.Clone(), false, nil
	}

	now := s.clock.Now("dbfake", "apply")
	next.SocietyID = societyID
	next.PulseDate = date
	if current == nil {
		s.nextID++
		next.ID = s.nextID
		next.CreatedAt = now
	} else {
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
	}
	next.UpdatedAt = now
	s.table(schema)[key] = next.Clone()
	return next.Clone(), true, nil
}

func (s *Store) Get(ctx context.Context, schema tenant.SchemaRef, societyID int64, date time.Time) (*pulse.Pulse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSchema(schema); err != nil {
		return nil, err
	}
	p, ok := s.rows[schema][rowKey{societyID, date}]
	if !ok {
		return nil, idb.ErrPulseNotFound
	}
	return p.Clone(), nil
}

func (s *Store) list(schema tenant.SchemaRef, keep func(*pulse.Pulse) bool) ([]*pulse.Pulse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSchema(schema); err != nil {
		return nil, err
	}
	if s.failList != nil {
		if err := s.failList(schema); err != nil {
			return nil, err
		}
	}
	return s.filter(schema, keep), nil
}

func (s *Store) ListByDate(ctx context.Context, schema tenant.SchemaRef, date time.Time) ([]*pulse.Pulse, error) {
	return s.list(schema, func(p *pulse.Pulse) bool { return p.PulseDate.Equal(date) })
}

func (s *Store) ListByStatus(ctx context.Context, schema tenant.SchemaRef, statuses ...pulse.Status) ([]*pulse.Pulse, error) {
	want := make(map[pulse.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.list(schema, func(p *pulse.Pulse) bool { return want[p.Status] })
}

func (s *Store) ListBySocietyRange(ctx context.Context, schema tenant.SchemaRef, societyID int64, from, to time.Time) ([]*pulse.Pulse, error) {
	return s.list(schema, func(p *pulse.Pulse) bool {
		return p.SocietyID == societyID && !p.PulseDate.Before(from) && !p.PulseDate.After(to)
	})
}

func (s *Store) ListViolations(ctx context.Context, schema tenant.SchemaRef) ([]*pulse.Pulse, error) {
	return s.list(schema, func(p *pulse.Pulse) bool { return len(pulse.Violations(p)) > 0 })
}
