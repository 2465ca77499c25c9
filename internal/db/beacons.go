package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pagerouter/internal/models"
)

// RecordBeaconFire upserts the ledger row of a fire key, bumping its count.
func (d *DB) RecordBeaconFire(ctx context.Context, f models.BeaconFire) error {
	if d == nil || d.Pool == nil {
		return ErrNoLedger
	}
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO beacon_fires (profile, account_id, product_id, tracking_id, count, last_url, first_fired_at, last_fired_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $6)
		ON CONFLICT (profile, account_id, product_id, tracking_id) DO UPDATE
		SET count = beacon_fires.count + 1,
		    last_url = EXCLUDED.last_url,
		    last_fired_at = GREATEST(beacon_fires.last_fired_at, EXCLUDED.last_fired_at)
	`, f.Profile, f.AccountID, f.ProductID, f.TrackingID, f.URL, f.FiredAt)
	if err != nil {
		return fmt.Errorf("record beacon fire: %w", err)
	}
	return nil
}

// GetBeaconCounts returns all ledger rows for metrics export.
func (d *DB) GetBeaconCounts(ctx context.Context) ([]models.BeaconCount, error) {
	if d == nil || d.Pool == nil {
		return nil, ErrNoLedger
	}
	rows, err := d.Pool.Query(ctx, `
		SELECT profile, account_id, product_id, tracking_id, count, last_url, first_fired_at, last_fired_at
		FROM beacon_fires
		ORDER BY profile, account_id, product_id, tracking_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.BeaconCount
	for rows.Next() {
		var b models.BeaconCount
		if err := rows.Scan(&b.Profile, &b.AccountID, &b.ProductID, &b.TrackingID, &b.Count, &b.LastURL, &b.FirstFiredAt, &b.LastFiredAt); err != nil {
			return nil, err
		}
		counts = append(counts, b)
	}
	return counts, rows.Err()
}

// GetBeaconCount returns the ledger row of one fire key.
func (d *DB) GetBeaconCount(ctx context.Context, profile, accountID, productID, trackingID string) (*models.BeaconCount, error) {
	if d == nil || d.Pool == nil {
		return nil, ErrNoLedger
	}
	b := &models.BeaconCount{}
	err := d.Pool.QueryRow(ctx, `
		SELECT profile, account_id, product_id, tracking_id, count, last_url, first_fired_at, last_fired_at
		FROM beacon_fires
		WHERE profile = $1 AND account_id = $2 AND product_id = $3 AND tracking_id = $4
	`, profile, accountID, productID, trackingID).Scan(
		&b.Profile, &b.AccountID, &b.ProductID, &b.TrackingID, &b.Count, &b.LastURL, &b.FirstFiredAt, &b.LastFiredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBeaconNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
