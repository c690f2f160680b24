package mount

import (
	"fmt"
	"os"

	"github.com/moby/sys/mountinfo"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// RootMount describes the live mount backing a running container's own "/",
// as seen from the host's /proc/<pid>/mountinfo (spec §4.7 `info`).
type RootMount struct {
	FSType string
	Source string
}

// LiveRootMount reads pid's mountinfo and returns the entry for its own
// root, the ecosystem-standard replacement for hand-parsing
// /proc/<pid>/mountinfo line by line (teacher's mount/infoParser.go did
// the latter for its own, differently-shaped purpose).
func LiveRootMount(pid int) (RootMount, error) {
	path := fmt.Sprintf("/proc/%d/mountinfo", pid)
	f, err := os.Open(path)
	if err != nil {
		return RootMount{}, dserr.Wrap(dserr.KindNotFound, "mount:liveinfo-open", err)
	}
	defer f.Close()

	infos, err := mountinfo.GetMountsFromReader(f, mountinfo.SingleEntryFilter("/"))
	if err != nil {
		return RootMount{}, dserr.Wrap(dserr.KindIO, "mount:liveinfo-parse", err)
	}
	if len(infos) == 0 {
		return RootMount{}, dserr.New(dserr.KindNotFound, "mount:liveinfo", "no root mount entry")
	}
	return RootMount{FSType: infos[0].FSType, Source: infos[0].Source}, nil
}
