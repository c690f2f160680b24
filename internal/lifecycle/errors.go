package lifecycle

import (
	"fmt"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

func notRunningErr(name string) error {
	return dserr.New(dserr.KindNotRunning, "lifecycle", fmt.Sprintf("container %q is not running", name))
}

func alreadyRunningErr(name string) error {
	return dserr.New(dserr.KindNameConflict, "lifecycle", fmt.Sprintf("container %q is already running", name))
}
