package metadata

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	deepcopy "github.com/tiendc/go-deepcopy"
)

// MemoryStore 进程内的实体存储，读写均复制实体。
type MemoryStore[E any] struct {
	mu     sync.RWMutex
	schema *entitySchema
	rows   map[any]*E
	order  []any
	seq    int64
	now    func() time.Time
}

// NewMemoryStore 实体结构不合法时返回错误。
func NewMemoryStore[E any]() (*MemoryStore[E], error) {
	s, err := parseSchema[E]()
	if err != nil {
		return nil, err
	}
	return &MemoryStore[E]{schema: s, rows: map[any]*E{}, now: time.Now}, nil
}

func (m *MemoryStore[E]) Create(_ context.Context, e *E) error {
	if e == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// 校验全部通过前不改动调用方的实体
	work := *e
	v := reflect.ValueOf(&work).Elem()
	pk := m.schema.pk.field(v)
	seq := m.seq
	if m.schema.autoPK() && pk.Int() == 0 {
		seq++
		pk.SetInt(seq)
	} else if m.schema.autoPK() && pk.Int() > seq {
		seq = pk.Int()
	}
	if pk.IsZero() {
		return fmt.Errorf("%w: pk %s is required", ErrInvalidArgument, m.schema.pk.name)
	}
	key := pk.Interface()
	if _, ok := m.rows[key]; ok {
		return fmt.Errorf("%w: %s=%v", ErrAlreadyExists, m.schema.pk.name, key)
	}
	if err := m.checkUnique(v, key); err != nil {
		return err
	}
	m.schema.stamp(v, m.now(), true)

	cp, err := m.copy(&work)
	if err != nil {
		return err
	}
	m.seq = seq
	*e = work
	m.rows[key] = cp
	m.order = append(m.order, key)
	return nil
}

func (m *MemoryStore[E]) Update(_ context.Context, e *E) error {
	if e == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v := reflect.ValueOf(e).Elem()
	key := m.schema.pk.field(v).Interface()
	old, ok := m.rows[key]
	if !ok {
		return fmt.Errorf("%w: %s=%v", ErrNotFound, m.schema.pk.name, key)
	}
	if err := m.checkUnique(v, key); err != nil {
		return err
	}
	ov := reflect.ValueOf(old).Elem()
	for _, c := range m.schema.cols {
		if c.created {
			c.field(v).Set(c.field(ov))
		}
	}
	m.schema.stamp(v, m.now(), false)

	cp, err := m.copy(e)
	if err != nil {
		return err
	}
	m.rows[key] = cp
	return nil
}

func (m *MemoryStore[E]) Get(ctx context.Context, q Query) (*E, error) {
	items, err := m.find(q, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (m *MemoryStore[E]) List(_ context.Context, q Query) ([]*E, error) {
	return m.find(q, 0)
}

func (m *MemoryStore[E]) Page(ctx context.Context, q Query, page, pageSize int) (*Page[E], error) {
	page, pageSize = normalizePage(page, pageSize)
	all, err := m.find(q, 0)
	if err != nil {
		return nil, err
	}
	start := min((page-1)*pageSize, len(all))
	end := min(start+pageSize, len(all))
	return &Page[E]{Items: all[start:end], Total: len(all), Page: page, PageSize: pageSize}, nil
}

func (m *MemoryStore[E]) Count(_ context.Context, q Query) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.schema.check(q); err != nil {
		return 0, err
	}
	n := 0
	for _, key := range m.order {
		if m.match(m.rows[key], q) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore[E]) Delete(_ context.Context, q Query) (int, error) {
	if len(q) == 0 {
		return 0, fmt.Errorf("%w: delete without conditions", ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.schema.check(q); err != nil {
		return 0, err
	}
	kept := m.order[:0]
	n := 0
	for _, key := range m.order {
		if m.match(m.rows[key], q) {
			delete(m.rows, key)
			n++
			continue
		}
		kept = append(kept, key)
	}
	m.order = kept
	return n, nil
}

func (m *MemoryStore[E]) find(q Query, limit int) ([]*E, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.schema.check(q); err != nil {
		return nil, err
	}
	out := make([]*E, 0)
	for _, key := range m.order {
		row := m.rows[key]
		if !m.match(row, q) {
			continue
		}
		cp, err := m.copy(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore[E]) match(row *E, q Query) bool {
	v := reflect.ValueOf(row).Elem()
	for name, want := range q {
		if !equalField(m.schema.byName[name].field(v), want) {
			return false
		}
	}
	return true
}

// checkUnique 与主键不同的记录在任一唯一组上全部相等即冲突。
func (m *MemoryStore[E]) checkUnique(v reflect.Value, key any) error {
	for _, g := range m.schema.uniqueGroups() {
		cols := m.schema.uniques[g]
		for k, row := range m.rows {
			if k == key {
				continue
			}
			rv := reflect.ValueOf(row).Elem()
			same := true
			for _, c := range cols {
				if !reflect.DeepEqual(c.field(rv).Interface(), c.field(v).Interface()) {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("%w: unique %s", ErrAlreadyExists, g)
			}
		}
	}
	return nil
}

// copy 浅拷贝实体，JSON 列深拷贝。
func (m *MemoryStore[E]) copy(e *E) (*E, error) {
	cp := *e
	v := reflect.ValueOf(&cp).Elem()
	for _, c := range m.schema.cols {
		f := c.field(v)
		if !c.json || f.IsZero() {
			continue
		}
		dst := reflect.New(c.typ)
		if err := deepcopy.Copy(dst.Interface(), f.Interface()); err != nil {
			return nil, fmt.Errorf("copy column %s: %w", c.name, err)
		}
		f.Set(dst.Elem())
	}
	return &cp, nil
}

// equalField 数字按数值比较，其余按 DeepEqual。
func equalField(f reflect.Value, want any) bool {
	if want == nil {
		return f.IsZero()
	}
	wv := reflect.ValueOf(want)
	if isNumber(f.Kind()) && isNumber(wv.Kind()) {
		return toFloat(f) == toFloat(wv)
	}
	if wv.Kind() == f.Kind() && wv.Type().ConvertibleTo(f.Type()) {
		wv = wv.Convert(f.Type())
	}
	return reflect.DeepEqual(f.Interface(), wv.Interface())
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func toFloat(v reflect.Value) float64 {
	switch {
	case v.CanInt():
		return float64(v.Int())
	case v.CanUint():
		return float64(v.Uint())
	default:
		return v.Float()
	}
}
