package main

import (
	"os"

	"github.com/urfave/cli"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/lifecycle"
)

// The four re-exec trampolines Start/Enter spawn. They are hidden from
// --help since no human ever invokes them directly; each expects a
// specific fd layout the spawning process arranged (see lifecycle's
// monitor.go/initexec.go/nsenter_trampoline.go for the contract).

func hiddenMonitorCommand() cli.Command {
	return cli.Command{
		Name:   "__monitor",
		Hidden: true,
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 {
				return dserr.New(dserr.KindInvalidArgument, "cli:__monitor", "missing bootcfg path")
			}
			selfExe, err := os.Executable()
			if err != nil {
				return err
			}
			return lifecycle.RunMonitor(selfExe, ctx.Args().Get(0))
		},
	}
}

func hiddenInitCommand() cli.Command {
	return cli.Command{
		Name:   "__init",
		Hidden: true,
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 {
				return dserr.New(dserr.KindInvalidArgument, "cli:__init", "missing bootcfg path")
			}
			return lifecycle.RunInit(ctx.Args().Get(0))
		},
	}
}

func hiddenNsenterOuterCommand() cli.Command {
	return cli.Command{
		Name:   "__nsenter",
		Hidden: true,
		Action: func(ctx *cli.Context) error {
			selfExe, err := os.Executable()
			if err != nil {
				return err
			}
			return lifecycle.RunNsenterOuter(selfExe, []string(ctx.Args()))
		},
	}
}

func hiddenNsenterInnerCommand() cli.Command {
	return cli.Command{
		Name:   "__nsenter-inner",
		Hidden: true,
		Action: func(ctx *cli.Context) error {
			return lifecycle.RunNsenterInner([]string(ctx.Args()))
		},
	}
}
