package types

// Mode names the backing store currently authoritative for reads and writes.
// Exactly one mode is active at a time.
type Mode string

// Backing-store modes.
const (
	ModeSessionRestored    Mode = "session-restored"
	ModeDirectoryLive      Mode = "directory-live"
	ModeDirectoryRefreshed Mode = "directory-refreshed"
	ModeServer             Mode = "server"
	ModeHybrid             Mode = "hybrid"
	ModeCache              Mode = "cache"
	ModeStatic             Mode = "static"
	ModeNoDirectory        Mode = "no-directory"
)

// IsDirectory reports whether writes go to a live directory.
func (m Mode) IsDirectory() bool {
	return m == ModeDirectoryLive || m == ModeDirectoryRefreshed
}

// IsServer reports whether writes go to the remote API.
func (m Mode) IsServer() bool {
	return m == ModeServer || m == ModeHybrid
}
