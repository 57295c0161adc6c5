package instance

import (
	"os"

	"github.com/inventrack/inventrack-backend/pkg/env"
)

const (
	envInstanceID = "INVENTRACK_INSTANCE_ID"
	fallbackID    = "worker-0"
)

// ID names this process in logs and lock ownership. It prefers
// INVENTRACK_INSTANCE_ID, then the hostname.
func ID() string {
	if id := env.Get(envInstanceID, ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
