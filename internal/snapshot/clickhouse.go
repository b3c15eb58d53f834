package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const clickHouseTable = "meshspectre_snapshots"

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS ` + clickHouseTable + ` (
	name String,
	version UInt64,
	payload String,
	written_at DateTime64(3)
) ENGINE = ReplacingMergeTree(version)
ORDER BY name`

const insertSnapshot = `INSERT INTO ` + clickHouseTable + ` (name, version, payload, written_at) VALUES (?, ?, ?, ?)`

const selectSnapshot = `
SELECT payload
FROM ` + clickHouseTable + `
WHERE name = ?
ORDER BY version DESC
LIMIT 1`

const selectLatestVersion = `SELECT max(version) FROM ` + clickHouseTable + ` WHERE name = ?`

// ClickHouseBackend keeps the latest payload per document in a
// ReplacingMergeTree table. Each Put is one INSERT, so a reader sees either
// the previous or the new version. Versions only grow per document, even
// when the wall clock steps back.
type ClickHouseBackend struct {
	conn *sql.DB
	now  func() time.Time

	mu       sync.Mutex
	versions map[string]uint64
}

// OpenClickHouse connects with dsn and ensures the snapshot table exists.
func OpenClickHouse(ctx context.Context, dsn string) (*ClickHouseBackend, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ClickHouse DSN: %w", err)
	}

	opts.MaxOpenConns = 4
	opts.MaxIdleConns = 2
	opts.ConnMaxLifetime = time.Hour
	opts.DialTimeout = 30 * time.Second

	conn := clickhouse.OpenDB(opts)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	slog.Debug("connected to ClickHouse", slog.Any("addr", opts.Addr))

	b := newClickHouseBackend(conn)
	if err := b.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func newClickHouseBackend(conn *sql.DB) *ClickHouseBackend {
	return &ClickHouseBackend{conn: conn, now: time.Now, versions: make(map[string]uint64)}
}

func (b *ClickHouseBackend) ensureSchema(ctx context.Context) error {
	if _, err := b.conn.ExecContext(ctx, createSnapshotTable); err != nil {
		return fmt.Errorf("failed to create %s: %w", clickHouseTable, err)
	}
	return nil
}

func (b *ClickHouseBackend) Put(ctx context.Context, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	version, err := b.nextVersion(ctx, name, now)
	if err != nil {
		return err
	}
	if _, err := b.conn.ExecContext(ctx, insertSnapshot, name, version, string(data), now); err != nil {
		return fmt.Errorf("insert snapshot %s: %w", name, err)
	}
	b.versions[name] = version
	return nil
}

// nextVersion returns the clock reading, or one past the highest version
// already written for name when the clock is behind it. The first call per
// name reads the stored maximum so a restart on a skewed node stays ordered.
func (b *ClickHouseBackend) nextVersion(ctx context.Context, name string, now time.Time) (uint64, error) {
	last, ok := b.versions[name]
	if !ok {
		if err := b.conn.QueryRowContext(ctx, selectLatestVersion, name).Scan(&last); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("query version of snapshot %s: %w", name, err)
		}
	}

	version := uint64(now.UnixNano())
	if version <= last {
		version = last + 1
	}
	return version, nil
}

func (b *ClickHouseBackend) Get(ctx context.Context, name string) ([]byte, error) {
	var payload string
	err := b.conn.QueryRowContext(ctx, selectSnapshot, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", name, err)
	}
	return []byte(payload), nil
}

func (b *ClickHouseBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
