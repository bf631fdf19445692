// Package instance identifies the running process in logs and lock owners.
package instance

import (
	"os"

	"github.com/angelmondragon/payrecon/pkg/env"
)

// GetID returns PAYRECON_INSTANCE_ID, then DYNO, then the hostname.
func GetID() string {
	if id := env.First("PAYRECON_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
