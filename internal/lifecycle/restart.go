package lifecycle

import (
	"github.com/ravindu644/droidspaces/internal/config"
	"github.com/ravindu644/droidspaces/internal/fsio"
)

// Restart implements spec §4.6's `restart`: stop with SkipUnmount so a
// loop-mounted image stays attached, then start again. Start notices the
// surviving .mount sidecar and reuses that mount point, avoiding the
// e2fsck + loop-setup cost a fresh start would pay.
func Restart(fs *fsio.FS, cfg config.Config, opts StartOptions) (*StartResult, error) {
	if cfg.Workspace == "" {
		cfg.Workspace = config.DefaultWorkspace()
	}
	if err := Stop(fs, cfg.Workspace, cfg.Name, StopOptions{SkipUnmount: true}); err != nil {
		return nil, err
	}
	return Start(fs, cfg, opts)
}
