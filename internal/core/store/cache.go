package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/riskledger/riskledger/internal/core"
)

// GetCachedTechnique returns a cached ATT&CK technique if it is still valid.
func (s *Store) GetCachedTechnique(ctx context.Context, id string) (*core.Technique, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := strings.ToUpper(strings.TrimSpace(id))
	if key == "" {
		return nil, errors.New("technique id is required")
	}

	var payload string
	row := s.DB.QueryRowContext(ctx, `
		SELECT technique_json
		FROM attack_cache
		WHERE technique_id = ? AND expires_at > ?
	`, key, s.now().Unix())

	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cached technique: %w", err)
	}

	var technique core.Technique
	if err := json.Unmarshal([]byte(payload), &technique); err != nil {
		return nil, fmt.Errorf("decode cached technique: %w", err)
	}
	technique.FromCache = true
	return &technique, nil
}

// SetCachedTechnique stores a technique with a TTL.
func (s *Store) SetCachedTechnique(ctx context.Context, technique *core.Technique, ttl time.Duration) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if ttl <= 0 || technique == nil {
		return nil
	}

	key := strings.ToUpper(strings.TrimSpace(technique.ID))
	if key == "" {
		return errors.New("technique id is required")
	}

	stored := *technique
	stored.FromCache = false
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode cached technique: %w", err)
	}

	now := s.now()
	expires := now.Add(ttl)

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO attack_cache (technique_id, technique_json, fetched_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(technique_id) DO UPDATE SET
			technique_json = excluded.technique_json,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at
	`, key, string(payload), now.Unix(), expires.Unix())
	if err != nil {
		return fmt.Errorf("store cached technique: %w", err)
	}

	return nil
}

// PurgeExpiredTechniques deletes cache rows past their expiry.
func (s *Store) PurgeExpiredTechniques(ctx context.Context) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM attack_cache WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge attack cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge attack cache: %w", err)
	}
	return affected, nil
}
