package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/mount"
)

// checkKernelFeatures implements the `check` command: a dry probe of the
// overlay, pid/uts namespace, and devpts support droidspaces' boot
// sequence (spec §4.3) depends on, without mutating any host state.
func checkKernelFeatures() error {
	if os.Geteuid() != 0 {
		return dserr.New(dserr.KindPermissionDenied, "check", "must run as root")
	}

	fs := fsio.NewOS()
	if err := mount.ProbeOverlaySupport(fs); err != nil {
		fmt.Println("overlayfs:   MISSING")
		return err
	}
	fmt.Println("overlayfs:   ok")

	if err := unix.Access("/proc/self/ns/pid", unix.R_OK); err != nil {
		fmt.Println("pid ns:      MISSING")
		return dserr.Wrap(dserr.KindMissingKernelFeature, "check:pidns", err)
	}
	fmt.Println("pid ns:      ok")

	if err := unix.Access("/proc/self/ns/uts", unix.R_OK); err != nil {
		fmt.Println("uts ns:      MISSING")
		return dserr.Wrap(dserr.KindMissingKernelFeature, "check:utsns", err)
	}
	fmt.Println("uts ns:      ok")

	if _, err := os.Stat("/dev/pts/ptmx"); err != nil {
		fmt.Println("devpts:      MISSING")
		return dserr.Wrap(dserr.KindMissingKernelFeature, "check:devpts", err)
	}
	fmt.Println("devpts:      ok")

	fmt.Println("all required kernel features present")
	return nil
}
