// Command droidspaces is the container-runtime CLI: start/stop/restart a
// Linux container rooted at a directory or ext4 image, enter or run a
// command inside one, and introspect what is currently running.
package main

import (
	"fmt"
	"os"
	"strings"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/ravindu644/droidspaces/internal/config"
	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
	"github.com/ravindu644/droidspaces/internal/lifecycle"
	"github.com/ravindu644/droidspaces/internal/term"
)

const usage = `droidspaces container runtime

droidspaces starts and manages lightweight Linux containers on Android
and conventional Linux hosts: PID/UTS/IPC namespace isolation, an
overlayfs or ext4-image rootfs, and a PTY-backed console.
`

func main() {
	app := cli.NewApp()
	app.Name = "droidspaces"
	app.Usage = usage
	app.Version = "1.0.0"

	app.Flags = globalFlags()
	app.Before = setupLogging

	app.Commands = []cli.Command{
		startCommand(),
		stopCommand(),
		restartCommand(),
		enterCommand(),
		runCommand(),
		infoCommand(),
		showCommand(),
		scanCommand(),
		pidCommand(),
		statusCommand(),
		checkCommand(),
		hiddenMonitorCommand(),
		hiddenInitCommand(),
		hiddenNsenterOuterCommand(),
		hiddenNsenterInnerCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitCodeFor(err))
	}
}

func setupLogging(ctx *cli.Context) error {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})
	if ctx.GlobalBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	return nil
}

// exitCodeFor maps the runtime's typed errors onto spec §6's exit codes:
// 0 success, 1 generic, 2 invalid arguments, 3 kernel/capability missing,
// 4 already-running (start) or not-running (stop/enter).
func exitCodeFor(err error) int {
	switch dserr.KindOf(err) {
	case dserr.KindInvalidArgument, dserr.KindNameMissingForImage:
		return 2
	case dserr.KindMissingKernelFeature:
		return 3
	case dserr.KindNameConflict, dserr.KindNotRunning:
		return 4
	default:
		return 1
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "name", Usage: "container name (auto-derived from os-release if omitted)"},
		cli.StringFlag{Name: "rootfs", Usage: "host directory to use as the container root"},
		cli.StringFlag{Name: "rootfs-img", Usage: "ext4 image file to loop-mount as the container root"},
		cli.StringFlag{Name: "hostname", Usage: "guest hostname (defaults to the container name)"},
		cli.BoolFlag{Name: "foreground, f", Usage: "stay attached and proxy the console instead of returning immediately"},
		cli.BoolFlag{Name: "hw-access", Usage: "share host /dev and /sys instead of building a private, minimal /dev"},
		cli.BoolFlag{Name: "enable-ipv6", Usage: "re-enable IPv6 on host interfaces at start (not reverted on stop)"},
		cli.BoolFlag{Name: "enable-android-storage", Usage: "bind-mount /storage/emulated/0 into the container"},
		cli.BoolFlag{Name: "selinux-permissive", Usage: "flip host SELinux to permissive for the container's duration"},
		cli.BoolFlag{Name: "volatile, V", Usage: "overlay the rootfs on tmpfs; all writes are discarded on stop"},
		cli.StringSliceFlag{Name: "bind-mount", Usage: "host:container bind mount, repeatable (max 16)"},
		cli.StringFlag{Name: "dns", Usage: "comma-separated resolver IPs for the guest"},
		cli.BoolFlag{Name: "disable-seccomp", Usage: "accepted for compatibility; no seccomp filter is installed with or without it"},
		cli.StringFlag{Name: "config", Usage: "key=value config file overriding the flags above"},
		cli.StringFlag{Name: "pidfile", Usage: "override the default workspace directory (pidfiles go in <path>/Pids)"},
		cli.BoolFlag{Name: "debug", Usage: "verbose logging"},
		cli.BoolFlag{Name: "cpu-profiling", Hidden: true, Usage: "write a CPU profile for the lifetime of a start invocation"},
		cli.BoolFlag{Name: "memory-profiling", Hidden: true, Usage: "write a memory profile for the lifetime of a start invocation"},
	}
}

func configFromContext(ctx *cli.Context) (config.Config, error) {
	cfg := config.Config{
		Name:               ctx.GlobalString("name"),
		RootfsSource:        ctx.GlobalString("rootfs"),
		Hostname:           ctx.GlobalString("hostname"),
		Foreground:         ctx.GlobalBool("foreground"),
		HardwareAccess:     ctx.GlobalBool("hw-access"),
		EnableIPv6:         ctx.GlobalBool("enable-ipv6"),
		BindAndroidStorage: ctx.GlobalBool("enable-android-storage"),
		SELinuxPermissive:  ctx.GlobalBool("selinux-permissive"),
		Volatile:           ctx.GlobalBool("volatile"),
		DisableSeccomp:     ctx.GlobalBool("disable-seccomp"),
		DNSServers:         config.ParseDNSServers(ctx.GlobalString("dns")),
		TTYCount:           config.TTYCount,
		PidfileDir:         ctx.GlobalString("pidfile"),
	}
	if img := ctx.GlobalString("rootfs-img"); img != "" {
		cfg.RootfsSource = img
		cfg.IsImage = true
	}
	for _, bm := range ctx.GlobalStringSlice("bind-mount") {
		bms, err := config.ParseBindMounts(cfg.BindMounts, bm)
		if err != nil {
			return cfg, err
		}
		cfg.BindMounts = bms
	}
	if cfgFile := ctx.GlobalString("config"); cfgFile != "" {
		if err := config.LoadFile(cfgFile, &cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.PidfileDir != "" {
		cfg.Workspace = cfg.PidfileDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runProfiler starts at most one of cpu/memory profiling for the lifetime
// of a start invocation (which, in foreground mode, includes the console
// proxy loop), mirroring the teacher's own runProfiler: the two
// modes are mutually exclusive and the caller is responsible for calling
// Stop on whatever is returned.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuOn := ctx.GlobalBool("cpu-profiling")
	memOn := ctx.GlobalBool("memory-profiling")
	if cpuOn && memOn {
		return nil, dserr.New(dserr.KindInvalidArgument, "cli:profiling", "cpu and memory profiling are mutually exclusive")
	}
	switch {
	case cpuOn:
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	case memOn:
		return profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	default:
		return nil, nil
	}
}

func startCommand() cli.Command {
	return cli.Command{
		Name:  "start",
		Usage: "create and boot a container",
		Action: func(ctx *cli.Context) error {
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			prof, err := runProfiler(ctx)
			if err != nil {
				return err
			}
			if prof != nil {
				defer prof.Stop()
			}
			selfExe, err := os.Executable()
			if err != nil {
				return dserr.Wrap(dserr.KindIO, "cli:start", err)
			}
			result, err := lifecycle.Start(fsio.NewOS(), cfg, lifecycle.StartOptions{SelfExe: selfExe})
			if err != nil {
				return err
			}

			_, _ = systemd.SdNotify(false, systemd.SdNotifyReady)
			fmt.Printf("%s started (init pid %d)\n", result.Name, result.InitPid)

			if result.ProxyTarget != nil {
				restore, rerr := term.MakeRaw(0)
				if rerr == nil {
					defer restore.Restore()
				}
				return term.ProxyLoop(os.Stdin, os.Stdout, result.ProxyTarget, result.InitPid)
			}
			return nil
		},
	}
}

func stopCommand() cli.Command {
	return cli.Command{
		Name:  "stop",
		Usage: "stop a running container",
		Action: func(ctx *cli.Context) error {
			cfg, err := resolveNameOnly(ctx)
			if err != nil {
				return err
			}
			return lifecycle.Stop(fsio.NewOS(), cfg.Workspace, cfg.Name, lifecycle.StopOptions{})
		},
	}
}

func restartCommand() cli.Command {
	return cli.Command{
		Name:  "restart",
		Usage: "stop then start the same container, reusing a mounted image",
		Action: func(ctx *cli.Context) error {
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			selfExe, err := os.Executable()
			if err != nil {
				return dserr.Wrap(dserr.KindIO, "cli:restart", err)
			}
			result, err := lifecycle.Restart(fsio.NewOS(), cfg, lifecycle.StartOptions{SelfExe: selfExe})
			if err != nil {
				return err
			}
			fmt.Printf("%s restarted (init pid %d)\n", result.Name, result.InitPid)
			return nil
		},
	}
}

func enterCommand() cli.Command {
	return cli.Command{
		Name:      "enter",
		Usage:     "attach an interactive shell inside a running container",
		ArgsUsage: "[user]",
		Action: func(ctx *cli.Context) error {
			name, err := resolveEnterName(ctx)
			if err != nil {
				return err
			}
			selfExe, err := os.Executable()
			if err != nil {
				return dserr.Wrap(dserr.KindIO, "cli:enter", err)
			}
			user := ""
			if ctx.NArg() > 0 {
				user = ctx.Args().Get(0)
			}
			return lifecycle.Enter(fsio.NewOS(), workspaceOf(ctx), name, lifecycle.EnterOptions{SelfExe: selfExe, User: user})
		},
	}
}

func runCommand() cli.Command {
	return cli.Command{
		Name:      "run",
		Usage:     "run a single command inside a running container",
		ArgsUsage: "<cmd...>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return dserr.New(dserr.KindInvalidArgument, "cli:run", "missing command")
			}
			name, err := resolveEnterName(ctx)
			if err != nil {
				return err
			}
			selfExe, err := os.Executable()
			if err != nil {
				return dserr.Wrap(dserr.KindIO, "cli:run", err)
			}
			return lifecycle.Enter(fsio.NewOS(), workspaceOf(ctx), name, lifecycle.EnterOptions{
				SelfExe: selfExe,
				Cmd:     []string(ctx.Args()),
			})
		},
	}
}

func infoCommand() cli.Command {
	return cli.Command{
		Name:  "info",
		Usage: "introspect a running container's feature state",
		Action: func(ctx *cli.Context) error {
			fs := fsio.NewOS()
			workspace := workspaceOf(ctx)
			name := ctx.GlobalString("name")
			if name == "" {
				auto, err := lifecycle.AutoSelect(fs, workspace)
				if err != nil {
					return err
				}
				name = auto
			}
			info, err := lifecycle.Describe(fs, workspace, name)
			if err != nil {
				return err
			}
			fmt.Printf("name:            %s\n", info.Name)
			fmt.Printf("pid:             %d\n", info.Pid)
			fmt.Printf("selinux enforce: %s\n", info.SELinuxEnforce)
			fmt.Printf("ipv6 disabled:   %v\n", info.IPv6Disabled)
			fmt.Printf("os-release:      %s\n", strings.ReplaceAll(info.OSRelease, "\n", " "))
			fmt.Printf("root fstype:     %s\n", info.RootFSType)
			fmt.Printf("root source:     %s\n", info.RootSource)
			return nil
		},
	}
}

func showCommand() cli.Command {
	return cli.Command{
		Name:  "show",
		Usage: "list every known container and its validity",
		Action: func(ctx *cli.Context) error {
			records, err := lifecycle.List(fsio.NewOS(), workspaceOf(ctx))
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Printf("%-24s pid=%-8d valid=%v\n", r.Name, r.Pid, r.Valid)
			}
			return nil
		},
	}
}

func scanCommand() cli.Command {
	return cli.Command{
		Name:  "scan",
		Usage: "discover running containers by NSpid and container marker, registering any with no pidfile",
		Action: func(ctx *cli.Context) error {
			records, err := lifecycle.ScanAndRegister(fsio.NewOS(), workspaceOf(ctx))
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Printf("%-24s pid=%-8d\n", r.Name, r.Pid)
			}
			return nil
		},
	}
}

func pidCommand() cli.Command {
	return cli.Command{
		Name:  "pid",
		Usage: "print a container's init pid",
		Action: func(ctx *cli.Context) error {
			cfg, err := resolveNameOnly(ctx)
			if err != nil {
				return err
			}
			rec, err := lifecycle.Resolve(fsio.NewOS(), cfg.Workspace, cfg.Name)
			if err != nil {
				return err
			}
			fmt.Println(rec.Pid)
			return nil
		},
	}
}

func statusCommand() cli.Command {
	return cli.Command{
		Name:  "status",
		Usage: "alias for show",
		Action: showCommand().Action,
	}
}

func checkCommand() cli.Command {
	return cli.Command{
		Name:  "check",
		Usage: "verify the host has the kernel features droidspaces needs",
		Action: func(ctx *cli.Context) error {
			return checkKernelFeatures()
		},
	}
}

func resolveNameOnly(ctx *cli.Context) (config.Config, error) {
	name := ctx.GlobalString("name")
	if name == "" && ctx.NArg() > 0 {
		name = ctx.Args().Get(0)
	}
	if name == "" {
		return config.Config{}, dserr.New(dserr.KindInvalidArgument, "cli", "missing --name")
	}
	ws := ctx.GlobalString("pidfile")
	if ws == "" {
		ws = config.DefaultWorkspace()
	}
	return config.Config{Name: name, Workspace: ws}, nil
}

func resolveEnterName(ctx *cli.Context) (string, error) {
	if name := ctx.GlobalString("name"); name != "" {
		return name, nil
	}
	return lifecycle.AutoSelect(fsio.NewOS(), workspaceOf(ctx))
}

func workspaceOf(ctx *cli.Context) string {
	if ws := ctx.GlobalString("pidfile"); ws != "" {
		return ws
	}
	return config.DefaultWorkspace()
}
