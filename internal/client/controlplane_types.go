package client

// ControlPlaneConfig contains configuration for the control plane server
type ControlPlaneConfig struct {
	Addr        string // Address to bind the control plane server
	AuthToken   string // Access token for the control plane server
	RateLimit   string // Per client rate, e.g. "20-S"; empty uses the default
	LogFilePath string // Daemon log file served by /v1/logs
}
