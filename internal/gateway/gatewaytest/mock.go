// Package gatewaytest provides in-memory stand-ins for pgx connections.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row is a pgx.Row backed by a scan function.
type Row struct {
	ScanFn func(dest ...any) error
}

func (r Row) Scan(dest ...any) error {
	return r.ScanFn(dest...)
}

// Rows is a pgx.Rows over fixed values.
type Rows struct {
	Data   [][]any
	idx    int
	Error  error
	closed bool
}

func NewRows(values ...[]any) *Rows {
	return &Rows{Data: values}
}

func (m *Rows) Close()                        { m.closed = true }
func (m *Rows) Err() error                    { return m.Error }
func (m *Rows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (m *Rows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}
func (m *Rows) Next() bool {
	if m.closed || m.idx >= len(m.Data) {
		return false
	}
	m.idx++
	return true
}
func (m *Rows) Scan(dest ...any) error {
	if m.idx == 0 || m.idx > len(m.Data) {
		return errors.New("no current row")
	}
	return assign(m.Data[m.idx-1], dest)
}
func (m *Rows) Values() ([]any, error) {
	if m.idx == 0 || m.idx > len(m.Data) {
		return nil, errors.New("no current row")
	}
	return m.Data[m.idx-1], nil
}
func (m *Rows) RawValues() [][]byte { return nil }
func (m *Rows) Conn() *pgx.Conn     { return nil }

// assign copies row into dest pointers, converting where reflect allows.
func assign(row []any, dest []any) error {
	if len(dest) > len(row) {
		return fmt.Errorf("scan %d columns from row of %d", len(dest), len(row))
	}
	for i, d := range dest {
		if anyDest, ok := d.(*any); ok {
			*anyDest = row[i]
			continue
		}
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if row[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		src := reflect.ValueOf(row[i])
		switch {
		case src.Type().AssignableTo(elem.Type()):
			elem.Set(src)
		case src.Type().ConvertibleTo(elem.Type()):
			elem.Set(src.Convert(elem.Type()))
		default:
			return fmt.Errorf("cannot scan %T into %s", row[i], elem.Type())
		}
	}
	return nil
}

// Conn is a scripted gateway.Querier. Every statement is recorded; the
// handler functions decide the results.
type Conn struct {
	ExecFn  func(sql string, args []any) error
	QueryFn func(sql string, args []any) ([][]any, error)
	// RowFn answers QueryRow. A nil row means pgx.ErrNoRows.
	RowFn func(sql string, args []any) ([]any, error)

	mu         sync.Mutex
	statements []string
}

func (c *Conn) record(sql string) {
	c.mu.Lock()
	c.statements = append(c.statements, sql)
	c.mu.Unlock()
}

// Statements returns every statement received, in order.
func (c *Conn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statements...)
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.record(sql)
	if c.ExecFn != nil {
		if err := c.ExecFn(sql, args); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.record(sql)
	if c.QueryFn == nil {
		return NewRows(), nil
	}
	values, err := c.QueryFn(sql, args)
	if err != nil {
		return nil, err
	}
	return NewRows(values...), nil
}

func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.record(sql)
	return Row{ScanFn: func(dest ...any) error {
		if c.RowFn == nil {
			return pgx.ErrNoRows
		}
		row, err := c.RowFn(sql, args)
		if err != nil {
			return err
		}
		if row == nil {
			return pgx.ErrNoRows
		}
		return assign(row, dest)
	}}
}
