package asan

// Version information for the heap diagnosis engine.
const (
	// Version is the current version of the asan runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the diagnosis engine.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Model is the memory model used for diagnosis.
	Model string

	// Enabled indicates whether diagnosis is active.
	Enabled bool
}

// GetInfo returns information about the diagnosis engine.
//
// Example:
//
//	info := asan.GetInfo()
//	fmt.Printf("heapguard %s (%s)\n", info.Version, info.Model)
func GetInfo() Info {
	return Info{
		Version: Version,
		Model:   "shadow memory, 1:8 default ratio",
		Enabled: true,
	}
}
