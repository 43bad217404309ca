package model

import (
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
)

// VersionChannel classifies catalog entries by stability
type VersionChannel string

const (
	ChannelRelease  VersionChannel = "release"
	ChannelSnapshot VersionChannel = "snapshot"
)

// CatalogVersion is one entry of the remote version catalog
type CatalogVersion struct {
	ID          string         `json:"id"`
	Channel     VersionChannel `json:"channel"`
	ManifestURL string         `json:"manifest_url"`
	ReleasedAt  time.Time      `json:"released_at"`
}

// CatalogSnapshot is the remote catalog as observed at FetchedAt.
// Snapshots are immutable; the cache replaces them wholesale.
type CatalogSnapshot struct {
	Latest    string           `json:"latest"`
	Versions  []CatalogVersion `json:"versions"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Find looks up a version by ID
func (c *CatalogSnapshot) Find(id string) (CatalogVersion, bool) {
	for _, v := range c.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return CatalogVersion{}, false
}

// Releases returns the release-channel versions sorted newest first.
// IDs that do not parse as semantic versions sort after those that do,
// preserving catalog order among themselves.
func (c *CatalogSnapshot) Releases() []CatalogVersion {
	var out []CatalogVersion
	for _, v := range c.Versions {
		if v.Channel == ChannelRelease {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		vi, erri := semver.NewVersion(out[i].ID)
		vj, errj := semver.NewVersion(out[j].ID)
		if erri != nil || errj != nil {
			return errj != nil && erri == nil
		}
		return vi.GreaterThan(vj)
	})
	return out
}

// RawManifestSource is the unparsed manifest document fetched for a
// VersionSpec. Parsing it into a Manifest is the resolver's job; a
// document that does not fit the expected shape is a malformed-manifest
// error, never a silent partial parse.
type RawManifestSource struct {
	Spec VersionSpec
	Body []byte
}
