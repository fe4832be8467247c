package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var errUnsupported = errors.New("not supported by memory dialect")

type memRow struct {
	Row
	owner    *memConn
	lockedBy *memConn
}

// memDialect keeps rows in memory and mimics row locks: a row claimed by an open
// conn is skipped by others until that conn completes (delete) or closes (release).
type memDialect struct {
	mu     sync.Mutex
	rows   map[int64]*memRow
	nextID int64

	exists     bool
	execErr    error
	insertErr  error
	claimErr   error
	// claimErrN limits claimErr to that many claims when set.
	claimErrN  *atomic.Int64
	sweepErr   error
	missing    error
	transient  error
	statements []string

	block    chan struct{}
	claiming atomic.Int64
	peak     atomic.Int64
}

var _ Dialect = (*memDialect)(nil)

func newMemDialect() *memDialect {
	return &memDialect{rows: map[int64]*memRow{}}
}

func (d *memDialect) Name() string { return "memory" }

func (d *memDialect) Table() string { return "messages" }

func (d *memDialect) Schema() []string {
	return []string{"CREATE TABLE messages", "CREATE INDEX messages_expiration"}
}

func (d *memDialect) TableExists(context.Context, Querier) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.exists, nil
}

var errAlreadyExists = errors.New("already exists")

func (d *memDialect) IsAlreadyExists(err error) bool { return errors.Is(err, errAlreadyExists) }

func (d *memDialect) IsTransient(err error) bool {
	return d.transient != nil && errors.Is(err, d.transient)
}

func (d *memDialect) IsMissingTable(err error) bool {
	return d.missing != nil && errors.Is(err, d.missing)
}

func (d *memDialect) Insert(_ context.Context, q Querier, row Row) error {
	if d.insertErr != nil {
		return d.insertErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	row.ID = d.nextID
	d.rows[row.ID] = &memRow{Row: row, owner: connOf(q)}

	return nil
}

func (d *memDialect) Claim(ctx context.Context, q Querier, recipient string, now time.Time) (Row, bool, error) {
	n := d.claiming.Add(1)
	defer d.claiming.Add(-1)
	for {
		peak := d.peak.Load()
		if n <= peak || d.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return Row{}, false, ctx.Err()
		}
	}
	if d.claimErr != nil && (d.claimErrN == nil || d.claimErrN.Add(-1) >= 0) {
		return Row{}, false, d.claimErr
	}

	c := connOf(q)
	d.mu.Lock()
	defer d.mu.Unlock()

	var best *memRow
	for _, r := range d.visible(c, recipient) {
		if !r.VisibleAt.After(now) && r.ExpiresAt.After(now) {
			if best == nil || r.Priority < best.Priority || (r.Priority == best.Priority && r.ID < best.ID) {
				best = r
			}
		}
	}
	if best == nil {
		return Row{}, false, nil
	}
	best.lockedBy = c

	return best.Row, true, nil
}

func (d *memDialect) DeleteExpired(_ context.Context, q Querier, recipient string, now time.Time, limit int) (int64, error) {
	if d.sweepErr != nil {
		return 0, d.sweepErr
	}
	c := connOf(q)
	d.mu.Lock()
	defer d.mu.Unlock()

	candidates := d.visible(c, recipient)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	var n int64
	for _, r := range candidates {
		if int(n) == limit {
			break
		}
		if r.ExpiresAt.After(now) {
			continue
		}
		r.lockedBy = c
		n++
	}

	return n, nil
}

func (d *memDialect) Count(_ context.Context, q Querier, recipient string, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var n int
	for _, r := range d.visible(connOf(q), recipient) {
		if !r.VisibleAt.After(now) && r.ExpiresAt.After(now) {
			n++
		}
	}

	return n, nil
}

// visible returns committed or own, unlocked rows of recipient. d.mu must be held.
func (d *memDialect) visible(c *memConn, recipient string) []*memRow {
	out := make([]*memRow, 0, len(d.rows))
	for _, r := range d.rows {
		if r.Recipient != recipient || r.lockedBy != nil {
			continue
		}
		if r.owner != nil && r.owner != c {
			continue
		}
		out = append(out, r)
	}

	return out
}

func (d *memDialect) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.rows)
}

func (d *memDialect) finish(c *memConn, commit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, r := range d.rows {
		if commit {
			if r.lockedBy == c {
				delete(d.rows, id)
			} else if r.owner == c {
				r.owner = nil
			}

			continue
		}
		if r.owner == c {
			delete(d.rows, id)
		} else if r.lockedBy == c {
			r.lockedBy = nil
		}
	}
}

type memProvider struct {
	d   *memDialect
	err error
}

func (p memProvider) Conn(context.Context) (Conn, error) {
	if p.err != nil {
		return nil, p.err
	}

	return &memConn{d: p.d}, nil
}

type memConn struct {
	d         *memDialect
	completed bool
	closed    bool
	closes    int
}

func connOf(q Querier) *memConn {
	switch c := q.(type) {
	case *memConn:
		return c
	case receiveConn:
		return connOf(c.Conn)
	default:
		return nil
	}
}

func (c *memConn) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()

	c.d.statements = append(c.d.statements, query)
	if c.d.execErr != nil {
		return nil, c.d.execErr
	}

	return nil, nil
}

func (c *memConn) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errUnsupported
}

func (c *memConn) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func (c *memConn) Complete() error {
	if c.completed || c.closed {
		return nil
	}
	c.completed = true
	c.d.finish(c, true)

	return nil
}

func (c *memConn) Close() error {
	c.closes++
	if c.completed || c.closed {
		return nil
	}
	c.closed = true
	c.d.finish(c, false)

	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type captureLogger struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (*captureLogger) Debug(string, ...any) {}

func (l *captureLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (*captureLogger) Error(string, ...any) {}

type captureMetrics struct {
	NopMetrics
	mu           sync.Mutex
	sent         int
	received     int
	expired      int
	errCount     int
	pending      int
	pendingCalls int
}

func (m *captureMetrics) AddSent(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent += n
}

func (m *captureMetrics) AddReceived(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received += n
}

func (m *captureMetrics) AddExpired(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired += n
}

func (m *captureMetrics) AddErrors(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errCount += n
}

func (m *captureMetrics) SetPending(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = n
	m.pendingCalls++
}

func newTestTransport(d *memDialect, address string, opts ...Option) *Transport {
	t, err := NewTransport(memProvider{d: d}, d, address, opts...)
	if err != nil {
		panic(err)
	}

	return t
}

// sendCommitted sends one message in its own committed conn.
func sendCommitted(tr *Transport, destination string, msg Message) error {
	conn, err := tr.Begin(context.Background())
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := tr.Send(context.Background(), conn, destination, msg); err != nil {
		return err
	}

	return conn.Complete()
}
