package model

import "time"

// Credential is the stored OAuth state for one upstream integration.
// AccessToken is empty when it has never been exchanged.
type Credential struct {
	IntegrationID string    `json:"integration_id" bson:"integration_id"`
	AccessToken   string    `json:"access_token" bson:"access_token"`
	RefreshToken  string    `json:"refresh_token" bson:"refresh_token"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

// SyncCursor is the incremental watermark for one sync stream.
type SyncCursor struct {
	Stream            string    `json:"stream" bson:"stream"`
	LastSyncTimestamp time.Time `json:"last_sync_timestamp" bson:"last_sync_timestamp"`
}
