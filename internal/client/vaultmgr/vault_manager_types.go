package vaultmgr

type VaultStatus string

const (
	VaultStatusUnprovisioned VaultStatus = "UNPROVISIONED"
	VaultStatusProvisioning  VaultStatus = "PROVISIONING"
	VaultStatusProvisioned   VaultStatus = "PROVISIONED"
	VaultStatusError         VaultStatus = "ERROR"
)

type VaultManagerStatus struct {
	Status VaultStatus
	Error  error
}

// SettingsUpdate changes the operator tunable part of the config. Nil fields
// are left alone.
type SettingsUpdate struct {
	VaultID            *string
	SyncInterval       *int
	ConflictResolution *string
}
