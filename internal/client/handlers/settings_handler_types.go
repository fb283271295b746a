package handlers

type SettingsResponse struct {
	VaultID            string `json:"vault_id"`
	VaultDir           string `json:"vault_dir"`
	DataDir            string `json:"data_dir"`
	SyncInterval       int    `json:"sync_interval"`
	ConflictResolution string `json:"conflict_resolution"`
	RemoteKind         string `json:"remote_kind"`
	RemoteBucket       string `json:"remote_bucket,omitempty"`
}

type UpdateSettingsRequest struct {
	VaultID            *string `json:"vault_id"`
	SyncInterval       *int    `json:"sync_interval"`
	ConflictResolution *string `json:"conflict_resolution"`
}
