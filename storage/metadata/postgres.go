package metadata

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation PostgreSQL 唯一约束冲突的错误码
const uniqueViolation = "23505"

// Querier pgx 查询接口，*pgxpool.Pool、*pgx.Conn 与 pgx.Tx 均满足。
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore 基于 PostgreSQL 的实体存储，每种实体一张表。
type PGStore[E any] struct {
	db     Querier
	name   string
	table  string
	schema *entitySchema
	now    func() time.Time
}

// NewPGStore table 经 pgx.Identifier 转义后拼入 SQL。
func NewPGStore[E any](db Querier, table string) (*PGStore[E], error) {
	s, err := parseSchema[E]()
	if err != nil {
		return nil, err
	}
	if table == "" {
		return nil, fmt.Errorf("%w: table name is required", ErrInvalidArgument)
	}
	return &PGStore[E]{db: db, name: table, table: ident(table), schema: s, now: time.Now}, nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// ====== DDL ======

func sqlType(c *column, pk bool) string {
	if c.json {
		return "JSONB"
	}
	if c.typ == timeType {
		return "TIMESTAMPTZ"
	}
	switch c.typ.Kind() {
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if pk {
			return "BIGSERIAL"
		}
		return "BIGINT"
	case reflect.Float32, reflect.Float64:
		return "DOUBLE PRECISION"
	case reflect.Slice:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

// CreateTableSQL 建表语句，唯一约束组生成表级 UNIQUE 约束。
func (s *PGStore[E]) CreateTableSQL() string {
	defs := make([]string, 0, len(s.schema.cols)+len(s.schema.uniques))
	for _, c := range s.schema.cols {
		def := ident(c.name) + " " + sqlType(c, c.pk)
		switch {
		case c.pk:
			def += " PRIMARY KEY"
		case c.created || c.updated:
			def += " NOT NULL DEFAULT NOW()"
		}
		defs = append(defs, def)
	}
	for _, g := range s.schema.uniqueGroups() {
		cols := make([]string, 0, len(s.schema.uniques[g]))
		for _, c := range s.schema.uniques[g] {
			cols = append(cols, ident(c.name))
		}
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
			ident("uk_"+s.name+"_"+g), strings.Join(cols, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", s.table, strings.Join(defs, ",\n    "))
}

// EnsureSchema 表不存在时创建。
func (s *PGStore[E]) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, s.CreateTableSQL()); err != nil {
		return fmt.Errorf("metadata: create table %s: %w", s.name, err)
	}
	return nil
}

// ====== 写入 ======

func (s *PGStore[E]) Create(ctx context.Context, e *E) error {
	if e == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidArgument)
	}
	v := reflect.ValueOf(e).Elem()
	s.schema.stamp(v, s.now(), true)

	pkField := s.schema.pk.field(v)
	var (
		names, holders []string
		args           []any
	)
	for _, c := range s.schema.cols {
		if c.pk && s.schema.autoPK() && pkField.Int() == 0 {
			continue
		}
		arg, err := toArg(c, c.field(v))
		if err != nil {
			return err
		}
		args = append(args, arg)
		names = append(names, ident(c.name))
		holders = append(holders, fmt.Sprintf("$%d", len(args)))
	}
	if !s.schema.autoPK() && pkField.IsZero() {
		return fmt.Errorf("%w: pk %s is required", ErrInvalidArgument, s.schema.pk.name)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		s.table, strings.Join(names, ", "), strings.Join(holders, ", "), ident(s.schema.pk.name))
	if s.schema.autoPK() {
		var id int64
		if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			return s.wrap("create", err)
		}
		pkField.SetInt(id)
		return nil
	}
	var id string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return s.wrap("create", err)
	}
	return nil
}

func (s *PGStore[E]) Update(ctx context.Context, e *E) error {
	if e == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidArgument)
	}
	v := reflect.ValueOf(e).Elem()
	s.schema.stamp(v, s.now(), false)

	var (
		sets []string
		args []any
	)
	for _, c := range s.schema.cols {
		if c.pk || c.created {
			continue
		}
		arg, err := toArg(c, c.field(v))
		if err != nil {
			return err
		}
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c.name), len(args)))
	}
	args = append(args, s.schema.pk.field(v).Interface())
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		s.table, strings.Join(sets, ", "), ident(s.schema.pk.name), len(args))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return s.wrap("update", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s=%v", ErrNotFound, s.schema.pk.name, args[len(args)-1])
	}
	return nil
}

func (s *PGStore[E]) Delete(ctx context.Context, q Query) (int, error) {
	if len(q) == 0 {
		return 0, fmt.Errorf("%w: delete without conditions", ErrInvalidArgument)
	}
	where, args, err := s.where(q)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s%s", s.table, where), args...)
	if err != nil {
		return 0, s.wrap("delete", err)
	}
	return int(tag.RowsAffected()), nil
}

// ====== 查询 ======

func (s *PGStore[E]) Get(ctx context.Context, q Query) (*E, error) {
	items, err := s.selectRows(ctx, q, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (s *PGStore[E]) List(ctx context.Context, q Query) ([]*E, error) {
	return s.selectRows(ctx, q, 0, 0)
}

func (s *PGStore[E]) Page(ctx context.Context, q Query, page, pageSize int) (*Page[E], error) {
	page, pageSize = normalizePage(page, pageSize)
	total, err := s.Count(ctx, q)
	if err != nil {
		return nil, err
	}
	items, err := s.selectRows(ctx, q, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &Page[E]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *PGStore[E]) Count(ctx context.Context, q Query) (int, error) {
	where, args, err := s.where(q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err = s.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.table, where), args...).Scan(&n); err != nil {
		return 0, s.wrap("count", err)
	}
	return int(n), nil
}

func (s *PGStore[E]) selectRows(ctx context.Context, q Query, limit, offset int) ([]*E, error) {
	where, args, err := s.where(q)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(s.schema.cols))
	for i, c := range s.schema.cols {
		names[i] = ident(c.name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		strings.Join(names, ", "), s.table, where, ident(s.schema.pk.name))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("select", err)
	}
	defer rows.Close()

	out := make([]*E, 0)
	for rows.Next() {
		e, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, s.wrap("select", err)
	}
	return out, nil
}

func (s *PGStore[E]) where(q Query) (string, []any, error) {
	names, err := s.schema.check(q)
	if err != nil {
		return "", nil, err
	}
	if len(names) == 0 {
		return "", nil, nil
	}
	conds := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		c := s.schema.byName[name]
		arg := q[name]
		if c.json {
			if arg, err = sonic.MarshalString(arg); err != nil {
				return "", nil, fmt.Errorf("%w: column %s: %v", ErrInvalidArgument, name, err)
			}
		}
		args[i] = arg
		conds[i] = fmt.Sprintf("%s = $%d", ident(name), i+1)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// ====== 编解码 ======

func toArg(c *column, f reflect.Value) (any, error) {
	if !c.json {
		return f.Interface(), nil
	}
	if f.IsZero() {
		return nil, nil
	}
	raw, err := sonic.MarshalString(f.Interface())
	if err != nil {
		return nil, fmt.Errorf("encode column %s: %w", c.name, err)
	}
	return raw, nil
}

// scanHolder 列值的中间接收变量，类型与 pgx 的默认解码一致。
func scanHolder(c *column) any {
	if c.json {
		return new([]byte)
	}
	if c.typ == timeType {
		return new(time.Time)
	}
	switch c.typ.Kind() {
	case reflect.Bool:
		return new(bool)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return new(int64)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(int64)
	case reflect.Float32, reflect.Float64:
		return new(float64)
	case reflect.Slice:
		return new([]byte)
	default:
		return new(string)
	}
}

func (s *PGStore[E]) scan(rows pgx.Rows) (*E, error) {
	holders := make([]any, len(s.schema.cols))
	for i, c := range s.schema.cols {
		holders[i] = scanHolder(c)
	}
	if err := rows.Scan(holders...); err != nil {
		return nil, s.wrap("scan", err)
	}
	e := new(E)
	v := reflect.ValueOf(e).Elem()
	for i, c := range s.schema.cols {
		f := c.field(v)
		h := reflect.ValueOf(holders[i]).Elem()
		switch {
		case c.json:
			raw := h.Bytes()
			if len(raw) == 0 {
				continue
			}
			if err := sonic.Unmarshal(raw, f.Addr().Interface()); err != nil {
				return nil, fmt.Errorf("decode column %s: %w", c.name, err)
			}
		case f.Kind() >= reflect.Uint && f.Kind() <= reflect.Uint64:
			f.SetUint(uint64(h.Int()))
		default:
			f.Set(h.Convert(f.Type()))
		}
	}
	return e, nil
}

func (s *PGStore[E]) wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s: %s", ErrAlreadyExists, s.name, pgErr.ConstraintName)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("metadata: %s %s: %w", op, s.name, err)
}
