package realtime

// Named realtime streams used across the platform.
const (
	StreamPermissions = "permissions"
	StreamReleases    = "releases"
)
