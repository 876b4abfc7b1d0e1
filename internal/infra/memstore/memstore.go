// Package memstore is an in-memory port.RecordStore for local development
// and tests. Rows are kept as JSON-normalized maps so reads behave like the
// PostgREST backend: numbers decode as float64 and every read is a copy.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type row = map[string]any

// Store holds tables of rows in insertion order.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]row
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{tables: make(map[string][]row), now: time.Now}
}

// LoadSeedFile reads a YAML document mapping table names to row lists.
func (s *Store) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return s.LoadSeed(data)
}

// LoadSeed loads YAML seed data (table -> rows). Rows without an id get one.
func (s *Store) LoadSeed(data []byte) error {
	var seed map[string][]map[string]any
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for table, rows := range seed {
		for _, r := range rows {
			if err := s.Create(context.Background(), table, r, nil); err != nil {
				return fmt.Errorf("seed %s: %w", table, err)
			}
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table, id string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.tables[table] {
		if r["id"] == id {
			return decode(r, out)
		}
	}
	return &domain.ErrNotFound{Resource: table, ID: id}
}

func (s *Store) Filter(ctx context.Context, table string, match map[string]any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	want, err := normalize(match)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]row, 0)
	for _, r := range s.tables[table] {
		if matches(r, want) {
			rows = append(rows, r)
		}
	}
	return decode(rows, out)
}

func (s *Store) List(ctx context.Context, table, sortKey string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	rows := append(make([]row, 0, len(s.tables[table])), s.tables[table]...)
	s.mu.RUnlock()

	if key := strings.TrimSpace(sortKey); key != "" {
		desc := strings.HasPrefix(key, "-")
		key = strings.TrimPrefix(key, "-")
		sort.SliceStable(rows, func(i, j int) bool {
			if desc {
				return less(rows[j][key], rows[i][key])
			}
			return less(rows[i][key], rows[j][key])
		})
	}
	return decode(rows, out)
}

func (s *Store) Create(ctx context.Context, table string, data map[string]any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := normalize(data)
	if err != nil {
		return err
	}
	if id, _ := r["id"].(string); id == "" {
		r["id"] = uuid.NewString()
	}
	if _, ok := r["created_date"]; !ok {
		r["created_date"] = s.now().UTC().Format(time.RFC3339Nano)
	}

	s.mu.Lock()
	s.tables[table] = append(s.tables[table], r)
	s.mu.Unlock()

	return decode(r, out)
}

func (s *Store) Update(ctx context.Context, table, id string, patch map[string]any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := normalize(patch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.tables[table] {
		if r["id"] != id {
			continue
		}
		for k, v := range p {
			if k == "id" {
				continue
			}
			r[k] = v
		}
		r["updated_date"] = s.now().UTC().Format(time.RFC3339Nano)
		return decode(r, out)
	}
	return &domain.ErrNotFound{Resource: table, ID: id}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// normalize round-trips v through JSON so stored and compared values share
// one representation.
func normalize(v map[string]any) (row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	r := make(row)
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

func decode(v any, out any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func matches(r, want row) bool {
	for k, v := range want {
		got, ok := r[k]
		if v == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}

func less(a, b any) bool {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case nil:
		return b != nil
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}
