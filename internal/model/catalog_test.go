package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionSpec_String(t *testing.T) {
	tests := []struct {
		name string
		spec VersionSpec
		want string
	}{
		{"vanilla", VersionSpec{ID: "1.20.1", Loader: LoaderNone}, "1.20.1"},
		{"empty loader treated as vanilla", VersionSpec{ID: "1.20.1"}, "1.20.1"},
		{"forge with version", VersionSpec{ID: "1.20.1", Loader: LoaderForge, LoaderVersion: "47.4.4"}, "1.20.1-forge-47.4.4"},
		{"fabric without version", VersionSpec{ID: "1.20.1", Loader: LoaderFabric}, "1.20.1-fabric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.String())
		})
	}
}

func TestCatalogSnapshot_Find(t *testing.T) {
	snap := &CatalogSnapshot{Versions: []CatalogVersion{
		{ID: "1.20.1", Channel: ChannelRelease},
		{ID: "24w14a", Channel: ChannelSnapshot},
	}}

	v, ok := snap.Find("1.20.1")
	assert.True(t, ok)
	assert.Equal(t, ChannelRelease, v.Channel)

	_, ok = snap.Find("9.9.9")
	assert.False(t, ok)
}

func TestCatalogSnapshot_Releases(t *testing.T) {
	snap := &CatalogSnapshot{Versions: []CatalogVersion{
		{ID: "1.19.4", Channel: ChannelRelease},
		{ID: "24w14a", Channel: ChannelSnapshot},
		{ID: "1.20.1", Channel: ChannelRelease},
		{ID: "1.8.9", Channel: ChannelRelease},
	}}

	releases := snap.Releases()
	ids := make([]string, len(releases))
	for i, v := range releases {
		ids[i] = v.ID
	}
	assert.Equal(t, []string{"1.20.1", "1.19.4", "1.8.9"}, ids, "release channel only, newest first")
}

func TestLibraryEntry_AppliesTo(t *testing.T) {
	noRules := LibraryEntry{Name: "universal"}
	assert.True(t, noRules.AppliesTo("linux", "amd64"))
	assert.True(t, noRules.AppliesTo("windows", "arm64"))

	linuxOnly := LibraryEntry{Name: "native", Rules: []PlatformRule{{OS: "linux"}}}
	assert.True(t, linuxOnly.AppliesTo("linux", "amd64"))
	assert.False(t, linuxOnly.AppliesTo("darwin", "amd64"))

	exact := LibraryEntry{Rules: []PlatformRule{{OS: "darwin", Arch: "arm64"}, {OS: "linux"}}}
	assert.True(t, exact.AppliesTo("darwin", "arm64"))
	assert.False(t, exact.AppliesTo("darwin", "amd64"))
	assert.True(t, exact.AppliesTo("linux", "riscv64"))
}
