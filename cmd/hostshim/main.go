// hostshim - native launcher for a desktop app's bundled backend
//
// Usage:
//
//	hostshim                      Run the host (same as "hostshim run")
//	hostshim run                  Start the backend and serve the control surface
//	hostshim start                Ask a running host to start the backend
//	hostshim exit                 Ask a running host to exit
//	hostshim status               Show a running host's status
//	hostshim trace                Show the startup trace
//	hostshim config               Show the effective configuration
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/mbrock/hostshim/internal/config"
	"github.com/mbrock/hostshim/internal/dirs"
	"github.com/mbrock/hostshim/internal/host"
	"github.com/mbrock/hostshim/internal/launch"
	"github.com/mbrock/hostshim/internal/server"
	"github.com/mbrock/hostshim/internal/trace"
)

// Global flags
var (
	configFlag  string
	hostDirFlag string
	listenFlag  string
	socketFlag  string
	onExitFlag  string
	noAutoStart bool
	followFlag  bool
	allFlag     bool
)

func main() {
	flag.StringVarP(&configFlag, "config", "c", "", "Config file (default: next to the executable, then $XDG_CONFIG_HOME/hostshim)")
	flag.StringVar(&hostDirFlag, "host-dir", "", "Directory treated as the host executable's directory")
	flag.StringVar(&listenFlag, "listen", "", "Control server address (overrides config)")
	flag.StringVar(&socketFlag, "socket", "", "Control server unix socket (overrides config)")
	flag.StringVar(&onExitFlag, "on-exit", "", "What to do with the backend on exit: terminate, detach")
	flag.BoolVar(&noAutoStart, "no-start", false, "Do not start the backend when the host starts")
	flag.BoolVarP(&followFlag, "follow", "f", false, "Follow the startup trace of a running host")
	flag.BoolVarP(&allFlag, "all", "a", false, "Show every attempt in the startup trace, not just the last")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `hostshim - native launcher for a bundled backend

Usage:
  hostshim                      Run the host (same as "hostshim run")
  hostshim run                  Start the backend and serve the control surface
  hostshim start                Ask a running host to start the backend
  hostshim exit                 Ask a running host to exit
  hostshim status               Show a running host's status
  hostshim trace [-f] [-a]      Show the startup trace
  hostshim config [path]        Show the effective configuration

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("HOSTSHIM_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	args := flag.Args()
	cmd := "run"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		cmdRun()
	case "start":
		cmdStart()
	case "exit":
		cmdExit()
	case "status":
		cmdStatus()
	case "trace":
		cmdTrace()
	case "config":
		cmdConfig(args)
	default:
		flag.Usage()
		fatal("unknown command: %s", cmd)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig resolves the host directory and loads the configuration with
// command-line overrides applied.
func loadConfig() (*config.Config, string) {
	hostDir := hostDirFlag
	if hostDir == "" {
		var err error
		if hostDir, err = dirs.HostDir(); err != nil {
			fatal("locating host directory: %v", err)
		}
	}

	path := configFlag
	if path == "" {
		path = dirs.ConfigPath(hostDir)
	}
	cfg, err := config.Load(path, hostDir)
	if err != nil {
		fatal("%v", err)
	}

	if listenFlag != "" {
		cfg.Control.Address = listenFlag
	}
	if socketFlag != "" {
		cfg.Control.Socket = socketFlag
	}
	if onExitFlag != "" {
		cfg.Lifecycle.OnExit = onExitFlag
	}
	if noAutoStart {
		cfg.Backend.AutoStart = false
	}
	if err := cfg.Validate(); err != nil {
		fatal("%v", err)
	}
	return cfg, path
}

// cmdRun runs the host until ExitApp or a signal.
func cmdRun() {
	cfg, path := loadConfig()
	logger := slog.Default()
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}

	hub := trace.NewHub(200)
	sink := host.OpenTrace(cfg.Paths.LogsDir, hub, logger)

	sc := launch.FromConfig(cfg)
	sc.Trace = sink
	sc.Logger = logger

	h := host.NewHost(host.HostConfig{
		Config:     cfg,
		Supervisor: launch.New(sc),
		Trace:      sink,
		Presenter:  host.Presenters(cfg.Present, logger),
		Logger:     logger,
	})

	if cfg.Control.Enabled {
		ln, err := server.GetListener(cfg.Control.Socket, cfg.Control.Address)
		if err != nil {
			fatal("control server: %v", err)
		}
		h.SetControl(server.New(h, hub, logger), ln)
	}

	if err := h.Run(context.Background()); err != nil {
		fatal("%v", err)
	}
}

func controlClient() *server.Client {
	cfg, _ := loadConfig()
	if !cfg.Control.Enabled {
		fatal("control server is disabled in the configuration")
	}
	return server.NewClient(cfg.Control.Socket, cfg.Control.Address)
}

// cmdStart asks the running host for a launch attempt.
func cmdStart() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	msg, err := controlClient().StartBackend(ctx)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(msg)
}

// cmdExit asks the running host to exit.
func cmdExit() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := controlClient().ExitApp(ctx); err != nil {
		fatal("%v", err)
	}
}

// cmdStatus prints the running host's status document.
func cmdStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data, err := controlClient().StatusJSON(ctx)
	if err != nil {
		fatal("%v", err)
	}
	os.Stdout.Write(data)
}

// cmdConfig prints the effective configuration, or with "path" the file
// it was loaded from.
func cmdConfig(args []string) {
	cfg, path := loadConfig()
	if len(args) > 0 && args[0] == "path" {
		if path == "" {
			fmt.Println("(defaults)")
			return
		}
		fmt.Println(path)
		return
	}
	data, err := cfg.Marshal()
	if err != nil {
		fatal("rendering config: %v", err)
	}
	os.Stdout.Write(data)
}
