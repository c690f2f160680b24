package lifecycle

import (
	"encoding/json"
	"os"

	"github.com/ravindu644/droidspaces/internal/config"
	"github.com/ravindu644/droidspaces/internal/dserr"
)

// bootCfg is the on-disk handoff between the parent CLI process and the
// re-exec'd monitor/init trampolines: everything boot.Sequence needs that
// can't travel as an inherited fd. A JSON scratch file under the
// workspace plays the role the teacher's in-process Setup(...) wiring
// plays for same-process service construction — the cross-process
// equivalent of passing a config struct by value.
type bootCfg struct {
	Cfg          config.Config `json:"cfg"`
	ConsoleSlave string        `json:"console_slave"`
	TtySlaves    []string      `json:"tty_slaves"`
	SELinux      bool          `json:"selinux"`
	Foreground   bool          `json:"foreground"`
}

func writeBootCfg(path string, bc bootCfg) error {
	data, err := json.Marshal(bc)
	if err != nil {
		return dserr.Wrap(dserr.KindIO, "lifecycle:bootcfg-encode", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return dserr.Wrap(dserr.KindIO, "lifecycle:bootcfg-write", err)
	}
	return nil
}

func readBootCfg(path string) (bootCfg, error) {
	var bc bootCfg
	data, err := os.ReadFile(path)
	if err != nil {
		return bc, dserr.Wrap(dserr.KindIO, "lifecycle:bootcfg-read", err)
	}
	if err := json.Unmarshal(data, &bc); err != nil {
		return bc, dserr.Wrap(dserr.KindIO, "lifecycle:bootcfg-decode", err)
	}
	return bc, nil
}
