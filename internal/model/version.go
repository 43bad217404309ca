package model

import "fmt"

// LoaderKind identifies the mod-loader variant of a version family
type LoaderKind string

const (
	LoaderNone   LoaderKind = "vanilla"
	LoaderForge  LoaderKind = "forge"
	LoaderFabric LoaderKind = "fabric"
)

// Valid reports whether the loader kind is one of the known variants
func (k LoaderKind) Valid() bool {
	switch k {
	case LoaderNone, LoaderForge, LoaderFabric:
		return true
	}
	return false
}

// VersionSpec identifies a concrete installable version: a base game
// version plus an optional loader variant. Two specs are equal iff all
// three fields match.
type VersionSpec struct {
	ID            string     `json:"id" yaml:"id"`
	Loader        LoaderKind `json:"loader" yaml:"loader"`
	LoaderVersion string     `json:"loader_version,omitempty" yaml:"loader_version,omitempty"`
}

// String renders the spec as a stable directory-safe identifier,
// e.g. "1.20.1", "1.20.1-forge-47.4.4".
func (s VersionSpec) String() string {
	if s.Loader == LoaderNone || s.Loader == "" {
		return s.ID
	}
	if s.LoaderVersion == "" {
		return fmt.Sprintf("%s-%s", s.ID, s.Loader)
	}
	return fmt.Sprintf("%s-%s-%s", s.ID, s.Loader, s.LoaderVersion)
}

// Key returns the cache key for this spec
func (s VersionSpec) Key() string {
	return s.String()
}
