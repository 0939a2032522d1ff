package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/existflow/ecofinds/internal/logger"
)

// Persisted storage keys
const (
	KeyAuthToken    = "ecofinds_auth_token"
	KeyRefreshToken = "ecofinds_refresh_token"
	KeyUserData     = "ecofinds_user_data"
	KeyCartData     = "ecofinds_cart_data"
	KeyTheme        = "ecofinds_theme"
)

// sensitiveKeys are sealed when a passphrase is configured
var sensitiveKeys = map[string]bool{
	KeyAuthToken:    true,
	KeyRefreshToken: true,
}

// Get returns the value stored under key. A missing key is reported with
// ok == false and a nil error, as is a sealed value that cannot be opened.
func (db *DB) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value  string
		sealed int
	)
	err := db.QueryRowContext(ctx, "SELECT value, sealed FROM local_storage WHERE key = ?", key).Scan(&value, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if sealed == 0 {
		return value, true, nil
	}
	if db.sealer == nil {
		logger.Warn("Sealed value found but no passphrase configured", logger.F("key", key))
		return "", false, nil
	}
	plain, err := db.sealer.Decrypt(value)
	if err != nil {
		logger.Warn("Failed to unseal stored value", logger.F("key", key), logger.F("error", err))
		return "", false, nil
	}
	return string(plain), true, nil
}

// Set stores value under key, replacing any previous value
func (db *DB) Set(ctx context.Context, key, value string) error {
	sealed := 0
	if db.sealer != nil && sensitiveKeys[key] {
		enc, err := db.sealer.Encrypt([]byte(value))
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", key, err)
		}
		value = enc
		sealed = 1
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO local_storage (key, value, sealed, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, sealed = excluded.sealed, updated_at = excluded.updated_at`,
		key, value, sealed, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys. Missing keys are ignored.
func (db *DB) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")

	if _, err := db.ExecContext(ctx, "DELETE FROM local_storage WHERE key IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("failed to delete %s: %w", strings.Join(keys, ", "), err)
	}
	return nil
}

// GetJSON decodes the value under key into v
func (db *DB) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, ok, err := db.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key
func (db *DB) SetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return db.Set(ctx, key, string(data))
}

// Keys lists the stored keys in lexical order
func (db *DB) Keys(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT key FROM local_storage ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
