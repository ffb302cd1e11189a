// Package state provides persistent state management for the virtual filesystem.
package state

// CurrentVersion is the state format written by this build.
const CurrentVersion = 2

// FSState represents the filesystem state
type FSState struct {
	// Container mounts keyed by mount path
	Mounts map[string]MountRecord `json:"mounts"`

	// Directories that exist only in memory
	VirtualDirectories []string `json:"virtual_directories"`

	// Version for future compatibility
	Version int `json:"version"`
}

// MountRecord is one persisted mount.
type MountRecord struct {
	Name    string `json:"name,omitempty"`
	Locator string `json:"locator,omitempty"`
	Lazy    bool   `json:"lazy,omitempty"`
}

// NewFSState returns an empty state.
func NewFSState() *FSState {
	return &FSState{
		Mounts:             make(map[string]MountRecord),
		VirtualDirectories: []string{},
		Version:            CurrentVersion,
	}
}
