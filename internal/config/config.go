// Package config holds the container configuration data model (spec §3).
// A Config is constructed per CLI invocation and passed by value into every
// operation; the runtime core never keeps process-wide mutable config
// state (spec §9).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// MaxBindMounts is the hard ceiling on --bind-mount entries (spec §3, §8).
const MaxBindMounts = 16

// TTYCount is the fixed guest TTY count; a compile-time constant in [1,8]
// per spec §3 (the original source hard-codes 6).
const TTYCount = 6

// BindMount is a host->container recursive bind-mount pair. toOCIMount
// renders it as specs-go's Mount (Source/Destination), the shape every
// OCI-adjacent tool in the pack already expresses bind mounts in.
type BindMount struct {
	Host      string
	Container string
}

func (b BindMount) toOCIMount() specs.Mount {
	return specs.Mount{
		Source:      b.Host,
		Destination: b.Container,
		Type:        "bind",
		Options:     []string{"rbind", "rec"},
	}
}

// Config is the full set of knobs for one container (spec §3).
type Config struct {
	RootfsSource string // host directory, or ext4 image path
	IsImage      bool   // true if RootfsSource names an image file

	Name     string
	Hostname string

	Foreground         bool
	HardwareAccess     bool
	EnableIPv6         bool
	BindAndroidStorage bool
	SELinuxPermissive  bool
	Volatile           bool
	DisableSeccomp     bool

	BindMounts []BindMount
	DNSServers []string

	TTYCount int

	// PidfileDir overrides the default workspace ({workspace}/Pids).
	PidfileDir string

	// Workspace is {/data/local/Droidspaces or /var/lib/Droidspaces}.
	Workspace string
}

// Validate enforces the structural invariants of spec §3 and §8's boundary
// behaviors (17th bind-mount -> exit 2, image without name -> exit 2 class).
func (c *Config) Validate() error {
	if c.RootfsSource == "" {
		return dserr.New(dserr.KindInvalidArgument, "config", "rootfs not specified")
	}
	if c.IsImage && c.Name == "" {
		return dserr.New(dserr.KindNameMissingForImage, "config", "--name is mandatory with --rootfs-img")
	}
	if len(c.BindMounts) > MaxBindMounts {
		return dserr.New(dserr.KindInvalidArgument, "config",
			fmt.Sprintf("too many --bind-mount entries (%d > %d)", len(c.BindMounts), MaxBindMounts))
	}
	if c.TTYCount < 1 || c.TTYCount > 8 {
		return dserr.New(dserr.KindInvalidArgument, "config", "tty count must be in [1,8]")
	}
	if c.Hostname == "" {
		c.Hostname = c.Name
	}
	return nil
}

// DefaultWorkspace returns /data/local/Droidspaces on Android hosts
// (detected by the presence of /system/build.prop) and
// /var/lib/Droidspaces elsewhere (spec §3 persisted-state layout).
func DefaultWorkspace() string {
	if _, err := os.Stat("/system/build.prop"); err == nil {
		return "/data/local/Droidspaces"
	}
	return "/var/lib/Droidspaces"
}

// OCIBindMounts renders the configured bind mounts as specs-go Mount
// entries, for components (e.g. the mount assembler) that want the OCI
// shape rather than the bare host/container pair.
func (c *Config) OCIBindMounts() []specs.Mount {
	out := make([]specs.Mount, 0, len(c.BindMounts))
	for _, b := range c.BindMounts {
		out = append(out, b.toOCIMount())
	}
	return out
}

// ParseBindMounts parses a repeated --bind-mount=src:dst[,src:dst...] flag
// value into BindMount pairs.
func ParseBindMounts(existing []BindMount, raw string) ([]BindMount, error) {
	if raw == "" {
		return existing, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, dserr.New(dserr.KindInvalidArgument, "config",
				fmt.Sprintf("malformed --bind-mount entry %q (want src:dst)", pair))
		}
		existing = append(existing, BindMount{Host: parts[0], Container: parts[1]})
		if len(existing) > MaxBindMounts {
			return nil, dserr.New(dserr.KindInvalidArgument, "config",
				fmt.Sprintf("too many --bind-mount entries (> %d)", MaxBindMounts))
		}
	}
	return existing, nil
}

// ParseDNSServers splits a comma-separated literal IP list; an empty
// string yields a nil slice, meaning "host default applies" (spec §3).
func ParseDNSServers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// knownKeys mirrors the config-file key set of spec §6.
var knownKeys = map[string]bool{
	"name": true, "hostname": true, "rootfs_path": true, "use_sparse_image": true,
	"enable_ipv6": true, "enable_android_storage": true, "enable_hw_access": true,
	"selinux_permissive": true, "volatile_mode": true, "bind_mounts": true,
	"dns_servers": true, "run_at_boot": true, "sparse_image_size_gb": true,
	"disable_seccomp_filter": true,
}

// LoadFile reads a UTF-8 "key=value" configuration file (spec §6) into cfg.
// Lines starting with '#' and blank lines are ignored, mirroring the
// bufio.Scanner line-parsing idiom the teacher uses for /proc/pid/status
// (process.getStatus) — the pack has no dedicated key=value config library,
// so this one ambient concern is intentionally implemented on the standard
// library (see DESIGN.md).
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return dserr.Wrap(dserr.KindNotFound, "config", err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			return dserr.New(dserr.KindInvalidArgument, "config",
				fmt.Sprintf("%s:%d: malformed line %q", path, lineNo, line))
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])

		if !knownKeys[key] {
			continue
		}

		if err := applyKey(cfg, key, val); err != nil {
			return dserr.Wrap(dserr.KindInvalidArgument, "config", err)
		}
	}
	if err := s.Err(); err != nil {
		return dserr.Wrap(dserr.KindIO, "config", err)
	}
	return nil
}

func applyKey(cfg *Config, key, val string) error {
	switch key {
	case "name":
		cfg.Name = val
	case "hostname":
		cfg.Hostname = val
	case "rootfs_path":
		cfg.RootfsSource = val
	case "use_sparse_image":
		cfg.IsImage = val == "1"
	case "enable_ipv6":
		cfg.EnableIPv6 = boolVal(val)
	case "enable_android_storage":
		cfg.BindAndroidStorage = boolVal(val)
	case "enable_hw_access":
		cfg.HardwareAccess = boolVal(val)
	case "selinux_permissive":
		cfg.SELinuxPermissive = boolVal(val)
	case "volatile_mode":
		cfg.Volatile = boolVal(val)
	case "disable_seccomp_filter":
		cfg.DisableSeccomp = boolVal(val)
	case "bind_mounts":
		bms, err := ParseBindMounts(nil, val)
		if err != nil {
			return err
		}
		cfg.BindMounts = bms
	case "dns_servers":
		cfg.DNSServers = ParseDNSServers(val)
	case "run_at_boot", "sparse_image_size_gb":
		// consumed by the boot-time shell collaborator, not the runtime core.
	}
	return nil
}

func boolVal(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return s == "1"
	}
	return b
}
