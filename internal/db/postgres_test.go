package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

// connQuerier mimics a single connection: it records how many statements
// are in flight at once.
type connQuerier struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *connQuerier) enter() {
	n := c.inFlight.Add(1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
}

func (c *connQuerier) leave() { c.inFlight.Add(-1) }

func (c *connQuerier) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	c.enter()
	defer c.leave()
	return nil, nil
}

func (c *connQuerier) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	c.enter()
	return &connRows{conn: c}, nil
}

func (c *connQuerier) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	c.enter()
	return connRow{conn: c}
}

type connRows struct {
	pgx.Rows
	conn   *connQuerier
	closed bool
}

func (r *connRows) Next() bool { return false }
func (r *connRows) Err() error { return nil }
func (r *connRows) Close() {
	if !r.closed {
		r.closed = true
		r.conn.leave()
	}
}

type connRow struct{ conn *connQuerier }

func (r connRow) Scan(...interface{}) error {
	r.conn.leave()
	return nil
}

func TestSerialQuerierTakesTurns(t *testing.T) {
	conn := &connQuerier{}
	q := &serialQuerier{q: conn}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				rows, err := q.Query(ctx, "SELECT 1")
				if err != nil {
					t.Errorf("Query: %v", err)
					return
				}
				for rows.Next() {
				}
				rows.Close()
				rows.Close()
			case 1:
				if err := q.QueryRow(ctx, "SELECT 1").Scan(); err != nil {
					t.Errorf("Scan: %v", err)
				}
			default:
				if _, err := q.Exec(ctx, "SELECT 1"); err != nil {
					t.Errorf("Exec: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if got := conn.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent statements = %d, want 1", got)
	}
	if got := conn.inFlight.Load(); got != 0 {
		t.Errorf("statements left open = %d", got)
	}
}
