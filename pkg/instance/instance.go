package instance

import "github.com/angelmondragon/kitforge-backend/pkg/env"

const EnvInstanceID = "KITFORGE_INSTANCE_ID"

// GetID names this process in logs. Platform-provided ids are used when no
// explicit one is set.
func GetID() string {
	if id := env.First(EnvInstanceID, "DYNO", "HOSTNAME"); id != "" {
		return id
	}
	return "local"
}
