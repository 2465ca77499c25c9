package models

import "time"

// BeaconFire is one dispatched click beacon as recorded in the ledger.
type BeaconFire struct {
	Profile    string    `json:"profile"`
	AccountID  string    `json:"account_id"`
	ProductID  string    `json:"product_id"`
	TrackingID string    `json:"tracking_id"`
	URL        string    `json:"url"`
	FiredAt    time.Time `json:"fired_at"`
}

// BeaconCount aggregates the fires of one key.
type BeaconCount struct {
	Profile      string    `json:"profile"`
	AccountID    string    `json:"account_id"`
	ProductID    string    `json:"product_id"`
	TrackingID   string    `json:"tracking_id"`
	Count        int64     `json:"count"`
	LastURL      string    `json:"last_url"`
	FirstFiredAt time.Time `json:"first_fired_at"`
	LastFiredAt  time.Time `json:"last_fired_at"`
}

// Key returns the fire key in its aid|pid|tid string form.
func (b *BeaconCount) Key() string {
	return b.AccountID + "|" + b.ProductID + "|" + b.TrackingID
}
