package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"pagesum/internal/kv"
	"strings"
	"time"
)

var _ kv.Store = (*Database)(nil)

func (d *Database) Get(ctx context.Context, key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("key is empty")
	}

	query, args, err := d.sb.
		Select("value").
		From("kv").
		Where("key = ?", key).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var value []byte
	if err = d.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return value, nil
}

func (d *Database) Put(ctx context.Context, key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key is empty")
	}

	query, args, err := d.sb.
		Insert("kv").
		Columns("key", "value", "updated_at").
		Values(key, value, time.Now().UnixMilli()).
		Suffix("on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err = d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("execute query: %w", err)
	}

	return nil
}

func (d *Database) Delete(ctx context.Context, key string) error {
	query, args, err := d.sb.
		Delete("kv").
		Where("key = ?", strings.TrimSpace(key)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err = d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("execute query: %w", err)
	}

	return nil
}

// Update runs fn inside one write transaction. The connection is opened with _txlock=immediate, so the
// transaction takes the write lock up front and another process updating the same file waits for it.
func (d *Database) Update(ctx context.Context, key string, fn kv.UpdateFunc) (err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key is empty")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			d.log.ErrorContext(ctx, "Failed to roll back transaction",
				"error", rbErr,
				"operation", "Update")
		}
	}()

	query, args, err := d.sb.
		Select("value").
		From("kv").
		Where("key = ?", key).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var current []byte
	if err = tx.QueryRowContext(ctx, query, args...).Scan(&current); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("scan row: %w", err)
		}
		current = nil
	}

	next, err := fn(current)
	if errors.Is(err, kv.ErrUnchanged) {
		err = nil
		return tx.Rollback()
	}
	if err != nil {
		return err
	}

	query, args, err = d.sb.
		Insert("kv").
		Columns("key", "value", "updated_at").
		Values(key, next, time.Now().UnixMilli()).
		Suffix("on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("execute query: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Keys lists the stored keys, used by the stats command.
func (d *Database) Keys(ctx context.Context) ([]string, error) {
	query, args, err := d.sb.
		Select("key").
		From("kv").
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "Keys")
		}
	}()

	var keys []string
	for rows.Next() {
		var k string
		if err = rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		keys = append(keys, k)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return keys, nil
}
