package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/faithleysath/pt-web-automation/internal/model"
)

const subscriptionColumns = "id, media_json, url, platform, resolution, cron_expr, torrent_ids_json, folder_name, status, created_at, updated_at"

// GetByID fetches a subscription. It returns an error wrapping
// ErrSubscriptionNotFound when id is unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// GetByStatus returns the subscriptions in status, oldest first.
func (s *Store) GetByStatus(ctx context.Context, status model.Status) ([]model.Subscription, error) {
	return s.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = ? ORDER BY created_at, id`, string(status))
}

// GetByPlatform returns the subscriptions tracked on platform.
func (s *Store) GetByPlatform(ctx context.Context, platform string) ([]model.Subscription, error) {
	return s.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE platform = ? ORDER BY created_at, id`, platform)
}

// List returns every subscription.
func (s *Store) List(ctx context.Context) ([]model.Subscription, error) {
	return s.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at, id`)
}

// CreateFromMetadata inserts sub. An empty ID is replaced by a fresh UUID,
// an empty status defaults to updating.
func (s *Store) CreateFromMetadata(ctx context.Context, sub model.Subscription) (*model.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = model.StatusUpdating
	}
	if sub.Resolution == "" {
		sub.Resolution = model.ResolutionFHD
	}
	if sub.TorrentIDs == nil {
		sub.TorrentIDs = map[int]string{}
	}
	mediaJSON, err := json.Marshal(sub.Media)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	torrentJSON, err := json.Marshal(sub.TorrentIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal torrent ids: %w", err)
	}
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		string(mediaJSON),
		sub.URL,
		sub.Platform,
		string(sub.Resolution),
		sub.CronExpr,
		string(torrentJSON),
		nullableString(sub.FolderName),
		string(sub.Status),
		ts,
		ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return s.GetByID(ctx, sub.ID)
}

// UpdateStatus sets the status of id.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	if _, err := model.ParseStatus(string(status)); err != nil {
		return err
	}
	return s.exec(ctx, "update status", `UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`, id,
		string(status), nowString(), id)
}

// UpdateSchedule replaces the cron expression of id.
func (s *Store) UpdateSchedule(ctx context.Context, id, cronExpr string) error {
	return s.exec(ctx, "update schedule", `UPDATE subscriptions SET cron_expr = ?, updated_at = ? WHERE id = ?`, id,
		cronExpr, nowString(), id)
}

// UpdateFolderName sets the season folder name of id.
func (s *Store) UpdateFolderName(ctx context.Context, id, folder string) error {
	return s.exec(ctx, "update folder", `UPDATE subscriptions SET folder_name = ?, updated_at = ? WHERE id = ?`, id,
		nullableString(folder), nowString(), id)
}

// AddTorrentID records torrentID for episode of subscription id, replacing
// an earlier record for the same episode.
func (s *Store) AddTorrentID(ctx context.Context, id string, episode int, torrentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT torrent_ids_json FROM subscriptions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read torrent ids: %w", err)
	}
	ids, err := decodeTorrentIDs(raw)
	if err != nil {
		return err
	}
	ids[episode] = torrentID
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal torrent ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE subscriptions SET torrent_ids_json = ?, updated_at = ? WHERE id = ?`,
		string(encoded), nowString(), id); err != nil {
		return fmt.Errorf("write torrent ids: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit torrent ids: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, op, query, id string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(scanner interface{ Scan(dest ...any) error }) (*model.Subscription, error) {
	var (
		sub         model.Subscription
		mediaJSON   string
		resolution  string
		torrentJSON string
		folder      sql.NullString
		status      string
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&sub.ID,
		&mediaJSON,
		&sub.URL,
		&sub.Platform,
		&resolution,
		&sub.CronExpr,
		&torrentJSON,
		&folder,
		&status,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mediaJSON), &sub.Media); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", sub.ID, err)
	}
	ids, err := decodeTorrentIDs(torrentJSON)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", sub.ID, err)
	}
	sub.TorrentIDs = ids
	sub.Resolution = model.Resolution(resolution)
	sub.FolderName = folder.String
	sub.Status = model.Status(status)
	sub.CreatedAt = parseTime(createdRaw)
	sub.UpdatedAt = parseTime(updatedRaw)
	return &sub, nil
}

func decodeTorrentIDs(raw string) (map[int]string, error) {
	ids := map[int]string{}
	if raw == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("torrent ids: %w", err)
	}
	return ids, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
