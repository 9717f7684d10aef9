package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// ChangeFeed exposes the ordered, partitioned stream of settings mutations.
// Poll with an empty cursor positions at the tail of the partition. An empty
// nextCursor signals the partition is exhausted and will never yield more
// records; the caller drops it from its polling set.
type ChangeFeed interface {
	Partitions(ctx context.Context) ([]int, error)
	Poll(ctx context.Context, partition int, cursor string) (records []ChangeRecord, nextCursor string, err error)
}

// PostgresFeed reads the tenant_settings_changes table. Cursors are change
// row ids; partitions never exhaust.
type PostgresFeed struct {
	db         *sql.DB
	partitions int
	batchSize  int
}

// NewPostgresFeed creates a feed over the given number of partitions.
func NewPostgresFeed(dbx *sql.DB, partitions int) *PostgresFeed {
	if partitions < 1 {
		partitions = 1
	}
	return &PostgresFeed{db: dbx, partitions: partitions, batchSize: 100}
}

// Partitions returns every partition id the feed writes to.
func (f *PostgresFeed) Partitions(ctx context.Context) ([]int, error) {
	out := make([]int, f.partitions)
	for i := range out {
		out[i] = i
	}
	return out, nil
}

// Poll returns change records after the cursor position, oldest first. An
// empty cursor starts at the current tail so historical changes already
// covered by the startup scan are not replayed.
func (f *PostgresFeed) Poll(ctx context.Context, partition int, cursor string) ([]ChangeRecord, string, error) {
	var after int64
	if cursor == "" {
		row := f.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(id), 0) FROM tenant_settings_changes WHERE partition = $1`, partition)
		if err := row.Scan(&after); err != nil {
			return nil, "", fmt.Errorf("position feed partition %d: %w", partition, err)
		}
		return nil, strconv.FormatInt(after, 10), nil
	}
	after, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("invalid feed cursor %q: %w", cursor, err)
	}

	rows, err := f.db.QueryContext(ctx,
		`SELECT id, partition, tenant_id, change_type FROM tenant_settings_changes
		 WHERE partition = $1 AND id > $2 ORDER BY id LIMIT $3`,
		partition, after, f.batchSize)
	if err != nil {
		return nil, "", fmt.Errorf("poll feed partition %d: %w", partition, err)
	}
	defer rows.Close()

	var records []ChangeRecord
	last := after
	for rows.Next() {
		var rec ChangeRecord
		var ct string
		if err := rows.Scan(&rec.ID, &rec.Partition, &rec.TenantID, &ct); err != nil {
			return nil, "", fmt.Errorf("scan change record: %w", err)
		}
		rec.ChangeType = ChangeType(ct)
		records = append(records, rec)
		last = rec.ID
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("poll feed partition %d: %w", partition, err)
	}
	return records, strconv.FormatInt(last, 10), nil
}
