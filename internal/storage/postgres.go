package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgDefaultChannel   = "backoffice_session_storage"
	pgListenRetryDelay = 2 * time.Second
)

// Postgres is a Backend shared by tabs running in different processes.
//
// Rows live in backoffice.session_storage keyed by (scope, key); the scope
// plays the role of the browser origin. Every committed mutation is announced
// with pg_notify. Notification payloads carry keyed fingerprints instead of
// values, so tokens never travel over the notification channel. The key is
// generated once per scope and kept in backoffice.session_storage_keys.
type Postgres struct {
	log     *slog.Logger
	pool    *pgxpool.Pool
	scope   string
	channel string
	fp      *Fingerprinter

	mu        sync.Mutex
	watchers  map[uint64]func(Change)
	nextID    uint64
	listening bool
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
}

type pgNotification struct {
	Scope  string `json:"scope"`
	Key    string `json:"key"`
	Old    string `json:"old,omitempty"`
	New    string `json:"new,omitempty"`
	Origin string `json:"origin"`
}

// NewPostgres creates the storage table if needed and returns a backend bound
// to scope. The caller owns the pool.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, scope string, log *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("storage: nil pool")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("storage: empty scope")
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Postgres{
		log:      log,
		pool:     pool,
		scope:    scope,
		channel:  pgDefaultChannel,
		watchers: make(map[uint64]func(Change)),
	}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	fp, err := p.loadFingerprinter(ctx)
	if err != nil {
		return nil, err
	}
	p.fp = fp
	return p, nil
}

// Fingerprint maps value the way this scope's notifications do.
func (p *Postgres) Fingerprint(value string) string { return p.fp.Sum(value) }

func (p *Postgres) loadFingerprinter(ctx context.Context) (*Fingerprinter, error) {
	candidate, err := NewFingerprintKey()
	if err != nil {
		return nil, err
	}
	// First writer wins; every process of the scope then reads the same key.
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO backoffice.session_storage_keys (scope, key) VALUES ($1, $2)
		ON CONFLICT (scope) DO NOTHING
	`, p.scope, candidate); err != nil {
		return nil, fmt.Errorf("storage: store fingerprint key: %w", err)
	}
	var key []byte
	if err := p.pool.QueryRow(ctx,
		`SELECT key FROM backoffice.session_storage_keys WHERE scope = $1`, p.scope,
	).Scan(&key); err != nil {
		return nil, fmt.Errorf("storage: load fingerprint key: %w", err)
	}
	return NewFingerprinter(key)
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS backoffice;
		CREATE TABLE IF NOT EXISTS backoffice.session_storage (
			scope      text        NOT NULL,
			key        text        NOT NULL,
			value      text        NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (scope, key)
		);
		CREATE TABLE IF NOT EXISTS backoffice.session_storage_keys (
			scope text  PRIMARY KEY,
			key   bytea NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.pool.QueryRow(ctx, `
		SELECT value FROM backoffice.session_storage WHERE scope = $1 AND key = $2
	`, p.scope, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (p *Postgres) Set(ctx context.Context, origin, key, value string) error {
	if value == "" {
		return p.Remove(ctx, origin, key)
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var old string
		err := tx.QueryRow(ctx, `
			SELECT value FROM backoffice.session_storage
			WHERE scope = $1 AND key = $2
			FOR UPDATE
		`, p.scope, key).Scan(&old)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if old == value {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO backoffice.session_storage (scope, key, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		`, p.scope, key, value); err != nil {
			return err
		}
		return p.notifyTx(ctx, tx, pgNotification{Key: key, Old: p.fp.Sum(old), New: p.fp.Sum(value), Origin: origin})
	})
}

func (p *Postgres) Remove(ctx context.Context, origin, key string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var old string
		err := tx.QueryRow(ctx, `
			DELETE FROM backoffice.session_storage
			WHERE scope = $1 AND key = $2
			RETURNING value
		`, p.scope, key).Scan(&old)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		return p.notifyTx(ctx, tx, pgNotification{Key: key, Old: p.fp.Sum(old), Origin: origin})
	})
}

func (p *Postgres) Clear(ctx context.Context, origin string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM backoffice.session_storage WHERE scope = $1`, p.scope)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return p.notifyTx(ctx, tx, pgNotification{Origin: origin})
	})
}

func (p *Postgres) notifyTx(ctx context.Context, tx pgx.Tx, n pgNotification) error {
	n.Scope = p.scope
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(b))
	return err
}

// Watch starts the shared LISTEN loop on first use.
func (p *Postgres) Watch(fn func(Change)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	p.nextID++
	id := p.nextID
	p.watchers[id] = fn

	if !p.listening {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		p.listening = true
		go p.listenLoop(ctx, p.done)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.watchers, id)
			p.mu.Unlock()
		})
	}, nil
}

func (p *Postgres) listenLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := p.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("storage.listen.fail", "scope", p.scope, "err", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(pgListenRetryDelay):
		}
	}
}

func (p *Postgres) listen(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// A LISTENing connection must not go back to the pool.
	pgConn := conn.Hijack()
	defer func() { _ = pgConn.Close(context.Background()) }()

	if _, err := pgConn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return err
	}

	for {
		n, err := pgConn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var msg pgNotification
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			p.log.Warn("storage.notify.bad_payload", "err", err)
			continue
		}
		if msg.Scope != p.scope {
			continue
		}
		p.dispatch(Change{Key: msg.Key, OldValue: msg.Old, NewValue: msg.New, Origin: msg.Origin})
	}
}

func (p *Postgres) dispatch(c Change) {
	p.mu.Lock()
	watchers := make([]func(Change), 0, len(p.watchers))
	for _, fn := range p.watchers {
		watchers = append(watchers, fn)
	}
	p.mu.Unlock()

	notify(watchers, c)
}

// Close stops the listener. The pool is left open.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel, done := p.cancel, p.done
	p.watchers = make(map[uint64]func(Change))
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
