package model

// PlatformRule restricts a library or native entry to a subset of
// operating systems and architectures. Empty fields match everything.
type PlatformRule struct {
	OS   string `json:"os,omitempty"`
	Arch string `json:"arch,omitempty"`
}

// Matches evaluates the rule against an OS/arch pair
func (r PlatformRule) Matches(goos, goarch string) bool {
	if r.OS != "" && r.OS != goos {
		return false
	}
	if r.Arch != "" && r.Arch != goarch {
		return false
	}
	return true
}

// LibraryEntry is one downloadable library artifact of a manifest
type LibraryEntry struct {
	// Name is the artifact coordinate, e.g. "org.lwjgl:lwjgl:3.3.2"
	Name string `json:"name"`
	// Path is the artifact path relative to the libraries root
	Path string `json:"path"`
	URL  string `json:"url"`
	// SHA1 is the hex content digest published by the distribution service
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
	// Rules restrict the entry to matching platforms; nil means all
	Rules []PlatformRule `json:"rules,omitempty"`
	// Native marks the entry as carrying platform-specific binaries that
	// must be extracted into the per-version natives directory
	Native bool `json:"native,omitempty"`
}

// AppliesTo reports whether the entry is wanted on the given platform.
// An entry with no rules applies everywhere.
func (l LibraryEntry) AppliesTo(goos, goarch string) bool {
	if len(l.Rules) == 0 {
		return true
	}
	for _, r := range l.Rules {
		if r.Matches(goos, goarch) {
			return true
		}
	}
	return false
}

// AssetIndexRef points at the asset index document that expands into the
// full set of asset objects for a version
type AssetIndexRef struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

// AssetObject is one content-addressed asset blob
type AssetObject struct {
	// Path is the logical asset path, e.g. "minecraft/sounds/random/click.ogg"
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// MainArtifact is the primary launch artifact of a version
type MainArtifact struct {
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

// Manifest is the fully resolved dependency set of a VersionSpec,
// immutable once resolved. Libraries already reflect the current
// platform: entries whose rules exclude it are filtered out at resolve
// time, and natives are the subset flagged Native.
type Manifest struct {
	Spec       VersionSpec    `json:"spec"`
	MainClass  string         `json:"main_class,omitempty"`
	Artifact   MainArtifact   `json:"artifact"`
	Libraries  []LibraryEntry `json:"libraries"`
	AssetIndex AssetIndexRef  `json:"asset_index"`
}

// Natives returns the libraries that require extraction into the
// per-version natives directory
func (m *Manifest) Natives() []LibraryEntry {
	var out []LibraryEntry
	for _, l := range m.Libraries {
		if l.Native {
			out = append(out, l)
		}
	}
	return out
}
