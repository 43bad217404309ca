package model

import (
	"path/filepath"
	"time"
)

// MemoryBounds holds the minimum and maximum heap allocation for an
// instance, in megabytes
type MemoryBounds struct {
	MinMB int `json:"min_mb" yaml:"min_mb"`
	MaxMB int `json:"max_mb" yaml:"max_mb"`
}

// Instance is one isolated installation. It owns its directory subtree
// exclusively; blob content may be shared with other instances through
// the content store but instance metadata never is.
type Instance struct {
	Name     string       `json:"name"`
	Version  VersionSpec  `json:"version"`
	Memory   MemoryBounds `json:"memory"`
	Profile  string       `json:"profile,omitempty"`
	// Ready is true only after every manifest entry has been verified
	// present. It is written by the registry alone, on provisioner
	// success. Ready=false means "not launchable", not an error.
	Ready     bool      `json:"ready"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`

	// Dir is the instance root directory. Not serialized: derived from
	// the registry root at load time.
	Dir string `json:"-"`
}

// Instance directory layout, relative to Instance.Dir. The launch
// collaborator depends on these exact paths.
const (
	LibrariesDirName     = "libraries"
	VersionsDirName      = "versions"
	NativesDirName       = "natives"
	AssetsDirName        = "assets"
	AssetIndexesDirName  = "indexes"
	AssetObjectsDirName  = "objects"
	ModsDirName          = "mods"
	SavesDirName         = "saves"
	ResourcePacksDirName = "resourcepacks"
	ConfigFileName       = "config.json"
)

// LibrariesDir returns the instance's library root
func (in *Instance) LibrariesDir() string {
	return filepath.Join(in.Dir, LibrariesDirName)
}

// VersionDir returns the directory of the instance's pinned version
func (in *Instance) VersionDir() string {
	return filepath.Join(in.Dir, VersionsDirName, in.Version.String())
}

// NativesDir returns the extraction target for platform-specific binaries
func (in *Instance) NativesDir() string {
	return filepath.Join(in.VersionDir(), NativesDirName)
}

// AssetsDir returns the instance's asset root
func (in *Instance) AssetsDir() string {
	return filepath.Join(in.Dir, AssetsDirName)
}

// AssetIndexesDir returns the asset index area
func (in *Instance) AssetIndexesDir() string {
	return filepath.Join(in.AssetsDir(), AssetIndexesDirName)
}

// AssetObjectsDir returns the hash-sharded asset object area
func (in *Instance) AssetObjectsDir() string {
	return filepath.Join(in.AssetsDir(), AssetObjectsDirName)
}

// ConfigPath returns the per-instance JSON record path
func (in *Instance) ConfigPath() string {
	return filepath.Join(in.Dir, ConfigFileName)
}

// Dirs returns every directory the instance tree must contain
func (in *Instance) Dirs() []string {
	return []string{
		in.LibrariesDir(),
		in.VersionDir(),
		in.NativesDir(),
		in.AssetIndexesDir(),
		in.AssetObjectsDir(),
		filepath.Join(in.Dir, ModsDirName),
		filepath.Join(in.Dir, SavesDirName),
		filepath.Join(in.Dir, ResourcePacksDirName),
	}
}
