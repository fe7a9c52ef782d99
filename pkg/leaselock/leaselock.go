// Package leaselock provides expiring, renewable locks stored in the
// app_locks table, so only one worker runs a periodic job at a time.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/topicquests/tqos-asr-api/internal/util"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// Client issues leases on one store. The renew loop of a lease shares the
// store with its holder, so the store must not be used by anything else.
type Client struct {
	mu        sync.Mutex
	s         *txstore.Store
	namespace string
	now       func() time.Time
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

type Lease struct {
	Key   string
	Token string

	// Context is cancelled when the lease is released or lost.
	Context context.Context

	client *Client
	ttl    time.Duration
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a client on s. Keys are stored as namespace/key when namespace
// is set.
func New(s *txstore.Store, namespace string) *Client {
	return &Client{s: s, namespace: namespace, now: time.Now}
}

func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("[LeaseLock] failed to release lease", "key", lease.Key, "err", err)
		}
	}()
	return fn(lease.Context)
}

func normalize(opts Options) Options {
	if opts.TTL < time.Millisecond {
		opts.TTL = 5 * time.Minute
	}
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/2, time.Second)
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 250 * time.Millisecond
	}
	if opts.WaitJitter < 0 {
		opts.WaitJitter = 0
	}
	return opts
}

func (c *Client) key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + "/" + key
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = normalize(opts)
	key = c.key(key)

	tok, err := util.NewID("lease")
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + tok

	for {
		ok, err := c.tryAcquire(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}
	logger.Debug("[LeaseLock] acquired", "key", key, "ttl", opts.TTL)

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		ttl:     opts.TTL,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}

	go l.renewLoop(opts.RenewEvery)

	return l, nil
}

// returning runs a statement that returns lock_key for every row it
// touched and reports whether any row was touched.
func (c *Client) returning(ctx context.Context, query string, args ...any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	found := false
	err := c.s.ExecuteSelect(ctx, nil, query, args, func(row txstore.Scanner) error {
		var key string
		if err := row.Scan(&key); err != nil {
			return err
		}
		found = key != ""
		return nil
	})
	return found, err
}

func (c *Client) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := c.now()
	return c.returning(ctx, tryAcquireSQL, key, token, now.Add(ttl).UnixMilli(), now.UnixMilli())
}

func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	l.client.mu.Lock()
	defer l.client.mu.Unlock()
	_, err := l.client.s.Execute(ctx, nil, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) renewLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(); err != nil {
				logger.Warn("[LeaseLock] lease lost", "key", l.Key, "err", err)
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce() error {
	for attempt := range 3 {
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		ok, err := l.client.returning(renewCtx, renewSQL, l.Key, l.Token, l.client.now().Add(l.ttl).UnixMilli())
		cancel()
		if err == nil {
			if !ok {
				return ErrLost
			}
			return nil
		}
		if errors.Is(err, txstore.ErrConnectionLost) || attempt == 2 {
			return err
		}
		if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return ErrLost
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Expiry is epoch milliseconds computed by the caller, which keeps the
// statements portable across dialects.
const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = excluded.locked_by,
    expires_at = excluded.expires_at
WHERE app_locks.expires_at < $4
   OR app_locks.locked_by = excluded.locked_by
RETURNING lock_key
`

const renewSQL = `
UPDATE app_locks
SET expires_at = $3
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = $1 AND locked_by = $2
`
