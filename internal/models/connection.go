package models

// ConnectionStatus is a point-in-time snapshot of the push channel state.
// It is recomputed on demand and never cached.
type ConnectionStatus struct {
	Connected            bool `json:"connected"`
	Connecting           bool `json:"connecting"`
	ReconnectAttempts    int  `json:"reconnect_attempts"`
	MaxReconnectAttempts int  `json:"max_reconnect_attempts"`
}
