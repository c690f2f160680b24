package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresRootfs(t *testing.T) {
	cfg := Config{TTYCount: TTYCount}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresNameForImage(t *testing.T) {
	cfg := Config{RootfsSource: "/img.ext4", IsImage: true, TTYCount: TTYCount}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateDefaultsHostnameToName(t *testing.T) {
	cfg := Config{RootfsSource: "/r", Name: "box1", TTYCount: TTYCount}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "box1", cfg.Hostname)
}

func TestValidateRejectsTooManyBindMounts(t *testing.T) {
	cfg := Config{RootfsSource: "/r", Name: "box1", TTYCount: TTYCount}
	for i := 0; i < MaxBindMounts+1; i++ {
		cfg.BindMounts = append(cfg.BindMounts, BindMount{Host: "/h", Container: "/c"})
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeTTYCount(t *testing.T) {
	cfg := Config{RootfsSource: "/r", Name: "box1", TTYCount: 9}
	assert.Error(t, cfg.Validate())
}

func TestParseBindMountsAccumulatesAndRejectsMalformed(t *testing.T) {
	bms, err := ParseBindMounts(nil, "/host/a:/container/a,/host/b:/container/b")
	require.NoError(t, err)
	require.Len(t, bms, 2)
	assert.Equal(t, BindMount{Host: "/host/a", Container: "/container/a"}, bms[0])

	_, err = ParseBindMounts(nil, "missing-colon")
	assert.Error(t, err)
}

func TestParseBindMountsEnforcesMax(t *testing.T) {
	var raw string
	for i := 0; i < MaxBindMounts+1; i++ {
		if i > 0 {
			raw += ","
		}
		raw += "/h:/c"
	}
	_, err := ParseBindMounts(nil, raw)
	assert.Error(t, err)
}

func TestParseDNSServers(t *testing.T) {
	assert.Nil(t, ParseDNSServers("  "))
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, ParseDNSServers("1.1.1.1, 8.8.8.8"))
}

func TestLoadFileAppliesKnownKeysAndIgnoresUnknown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "droidspaces.conf")
	content := "# comment\nname=box1\nvolatile_mode=1\nbogus_key=ignored\nbind_mounts=/h:/c\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	var cfg Config
	require.NoError(t, LoadFile(path, &cfg))
	assert.Equal(t, "box1", cfg.Name)
	assert.True(t, cfg.Volatile)
	require.Len(t, cfg.BindMounts, 1)
	assert.Equal(t, BindMount{Host: "/h", Container: "/c"}, cfg.BindMounts[0])
}

func TestLoadFileRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "droidspaces.conf")
	require.NoError(t, os.WriteFile(path, []byte("not-a-kv-line\n"), 0644))

	var cfg Config
	assert.Error(t, LoadFile(path, &cfg))
}

func TestOCIBindMounts(t *testing.T) {
	cfg := Config{BindMounts: []BindMount{{Host: "/h", Container: "/c"}}}
	oci := cfg.OCIBindMounts()
	require.Len(t, oci, 1)
	assert.Equal(t, "/h", oci[0].Source)
	assert.Equal(t, "/c", oci[0].Destination)
	assert.Equal(t, "bind", oci[0].Type)
}
