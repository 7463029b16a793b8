package metadata

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// column 实体字段与表列的映射。
type column struct {
	name    string
	index   []int
	typ     reflect.Type
	pk      bool
	unique  string
	created bool
	updated bool
	json    bool
}

func (c *column) field(v reflect.Value) reflect.Value {
	return v.FieldByIndex(c.index)
}

// entitySchema 由 db 标签解析出的表结构。
type entitySchema struct {
	typ    reflect.Type
	cols   []*column
	byName map[string]*column
	pk     *column
	// uniques 唯一约束组，组内列同时相等视为冲突
	uniques map[string][]*column
}

func (s *entitySchema) autoPK() bool {
	k := s.pk.typ.Kind()
	return k == reflect.Int || k == reflect.Int64
}

func parseSchema[E any]() (*entitySchema, error) {
	t := reflect.TypeOf((*E)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: entity %s is not a struct", ErrInvalidArgument, t)
	}
	s := &entitySchema{typ: t, byName: map[string]*column{}, uniques: map[string][]*column{}}
	if err := s.collect(t, nil); err != nil {
		return nil, err
	}
	if s.pk == nil {
		return nil, fmt.Errorf("%w: entity %s has no pk column", ErrInvalidArgument, t)
	}
	switch s.pk.typ.Kind() {
	case reflect.Int, reflect.Int64, reflect.String:
	default:
		return nil, fmt.Errorf("%w: pk of %s must be int, int64 or string", ErrInvalidArgument, t)
	}
	return s, nil
}

func (s *entitySchema) collect(t reflect.Type, parent []int) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int(nil), parent...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Tag.Get("db") == "" {
			if err := s.collect(f.Type, index); err != nil {
				return err
			}
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "" || tag == "-" || !f.IsExported() {
			continue
		}
		parts := strings.Split(tag, ",")
		c := &column{name: parts[0], index: index, typ: f.Type, json: isJSONType(f.Type)}
		for _, opt := range parts[1:] {
			switch {
			case opt == "pk":
				c.pk = true
			case opt == "unique":
				c.unique = c.name
			case strings.HasPrefix(opt, "unique="):
				c.unique = strings.TrimPrefix(opt, "unique=")
			case opt == "created":
				c.created = true
			case opt == "updated":
				c.updated = true
			}
		}
		if (c.created || c.updated) && f.Type != timeType {
			return fmt.Errorf("%w: column %s must be time.Time", ErrInvalidArgument, c.name)
		}
		if _, dup := s.byName[c.name]; dup {
			return fmt.Errorf("%w: duplicate column %s", ErrInvalidArgument, c.name)
		}
		if c.pk {
			if s.pk != nil {
				return fmt.Errorf("%w: entity %s has more than one pk", ErrInvalidArgument, t)
			}
			s.pk = c
		}
		if c.unique != "" {
			s.uniques[c.unique] = append(s.uniques[c.unique], c)
		}
		s.cols = append(s.cols, c)
		s.byName[c.name] = c
	}
	return nil
}

func isJSONType(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Map, reflect.Interface:
		return true
	case reflect.Slice, reflect.Array:
		return t.Elem().Kind() != reflect.Uint8
	case reflect.Struct:
		return t != timeType
	}
	return false
}

// check 校验查询列并返回排序后的列名。
func (s *entitySchema) check(q Query) ([]string, error) {
	names := make([]string, 0, len(q))
	for name := range q {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidArgument, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// uniqueGroups 排序后的唯一约束组名。
func (s *entitySchema) uniqueGroups() []string {
	groups := make([]string, 0, len(s.uniques))
	for g := range s.uniques {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// stamp 写入 created/updated 时间。
func (s *entitySchema) stamp(v reflect.Value, now time.Time, creating bool) {
	for _, c := range s.cols {
		if c.updated || (creating && c.created && c.field(v).Interface().(time.Time).IsZero()) {
			c.field(v).Set(reflect.ValueOf(now))
		}
	}
}

// Where 以实体的非零字段构造查询，用于按任意已设置的字段查找。
func Where[E any](e *E) (Query, error) {
	s, err := parseSchema[E]()
	if err != nil {
		return nil, err
	}
	q := Query{}
	if e == nil {
		return q, nil
	}
	v := reflect.ValueOf(e).Elem()
	for _, c := range s.cols {
		if c.json {
			continue
		}
		f := c.field(v)
		if !f.IsZero() {
			q[c.name] = f.Interface()
		}
	}
	return q, nil
}
