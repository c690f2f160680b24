// Package netenv implements spec §4.4 (C4): the host-side sysctl wiring
// done before a container boots, and the guest-side network identity
// files written during the PID-1 boot sequence (spec §4.3 step 18).
//
// Host sysctls are written directly under /proc/sys rather than by
// shelling out to sysctl(8); github.com/vishvananda/netlink's rtnetlink
// wrapper is used only to list the host's links (lazydocker's
// podman/buildah dependency chain pulls in the same library for bridge
// setup).
package netenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
)

// androidNetGroups are appended to the guest's /etc/group so non-root
// guest users retain socket access (spec §4.3 step 18).
var androidNetGroups = []string{
	"aid_inet:x:3003:",
	"aid_net_raw:x:3004:",
	"aid_net_admin:x:3005:",
}

// EnableIPv4Forwarding flips net.ipv4.ip_forward on for the host, mirroring
// what every container runtime in the corpus does before bringing up a
// bridge.
func EnableIPv4Forwarding() error {
	return writeSysctl("/proc/sys/net/ipv4/ip_forward", "1")
}

// RestoreIPv6 clears disable_ipv6 on every interface when enable_ipv6 was
// requested, undoing whatever state the host previously had (spec §4.4).
func RestoreIPv6() error {
	links, err := netlink.LinkList()
	if err != nil {
		return dserr.Wrap(dserr.KindIO, "netenv:ipv6", err)
	}
	for _, l := range links {
		path := fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/disable_ipv6", l.Attrs().Name)
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		if err := writeSysctl(path, "0"); err != nil {
			return err
		}
	}
	return writeSysctl("/proc/sys/net/ipv6/conf/all/disable_ipv6", "0")
}

func writeSysctl(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return dserr.Wrap(dserr.KindIO, "netenv:sysctl:"+path, err)
	}
	return nil
}

// WriteDNSMarker persists the comma-split DNS list to <rootfs>/.dns_servers
// so the PID-1 sequence, still running with the old root visible, can pick
// it up without any IPC back to the host (spec §4.4).
func WriteDNSMarker(fs *fsio.FS, rootfs string, servers []string) error {
	return fs.WriteFileAll(filepath.Join(rootfs, ".dns_servers"), []byte(strings.Join(servers, ",")), 0644)
}

// ReadDNSMarker is the PID-1 side counterpart of WriteDNSMarker.
func ReadDNSMarker(fs *fsio.FS, rootfs string) ([]string, error) {
	raw, err := fs.ReadFileTrimmed(filepath.Join(rootfs, ".dns_servers"))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, ","), nil
}

// WriteGuestIdentity writes /etc/hostname, /etc/hosts, the resolv.conf
// pair, and appends the Android net groups, all relative to the guest's
// new root (spec §4.3 step 18).
func WriteGuestIdentity(fs *fsio.FS, hostname string, dnsServers []string) error {
	if err := fs.WriteFileAll("/etc/hostname", []byte(hostname+"\n"), 0644); err != nil {
		return err
	}

	hosts := "127.0.0.1 localhost\n127.0.1.1 " + hostname + "\n"
	if err := fs.WriteFileAll("/etc/hosts", []byte(hosts), 0644); err != nil {
		return err
	}

	if err := fs.MkdirAll("/run/resolvconf", 0755); err != nil {
		return err
	}
	var resolv strings.Builder
	for _, ns := range dnsServers {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		resolv.WriteString("nameserver " + ns + "\n")
	}
	if err := fs.WriteFileAll("/run/resolvconf/resolv.conf", []byte(resolv.String()), 0644); err != nil {
		return err
	}

	_ = fs.Remove("/etc/resolv.conf")
	if err := fs.Symlink("/run/resolvconf/resolv.conf", "/etc/resolv.conf"); err != nil {
		return err
	}

	return appendGroups(fs, "/etc/group", androidNetGroups)
}

func appendGroups(fs *fsio.FS, path string, groups []string) error {
	existing, err := fs.ReadFileTrimmed(path)
	if err != nil {
		existing = ""
	}
	for _, g := range groups {
		name := g[:strings.Index(g, ":")]
		if strings.Contains(existing, name+":") {
			continue
		}
		existing += "\n" + g
	}
	return fs.WriteFileAll(path, []byte(strings.TrimLeft(existing, "\n")+"\n"), 0644)
}
