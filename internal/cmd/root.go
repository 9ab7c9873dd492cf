// Package cmd wires internal/config, the connection pool, the fs
// filesystem, and the fuse bridge together behind a cobra command, the
// way gcsfuse's cmd package wires cfg.Config through to its own mount
// call.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/moby/sys/mountinfo"
	"github.com/spf13/cobra"

	"github.com/samzyy/sqlfs/fs"
	"github.com/samzyy/sqlfs/fuse"
	"github.com/samzyy/sqlfs/internal/config"
	"github.com/samzyy/sqlfs/internal/logging"
	"github.com/samzyy/sqlfs/pool"
)

var bindErr error

var rootCmd = &cobra.Command{
	Use:   "sqlfs [flags] mount_point",
	Short: "Mount a database-backed filesystem at mount_point",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		return run(args[0])
	},
}

func init() {
	config.Init()
	bindErr = config.BindFlags(rootCmd.Flags())
}

// Execute runs the root command, exiting with status 1 on any setup
// failure (pool init, log open, mount refusal), or status 2 if
// --debug-dnq was given, per SPEC_FULL.md §6.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(mountPoint string) error {
	cfg, err := config.Load(mountPoint)
	if err != nil {
		return err
	}

	if cfg.DebugDNQ {
		dumpConfigAndQuit(cfg)
	}

	if cfg.Background {
		return daemonize()
	}

	if already, err := mountinfo.Mounted(cfg.MountPoint); err != nil {
		return fmt.Errorf("check mount point: %w", err)
	} else if already {
		return fmt.Errorf("%s is already a mount point", cfg.MountPoint)
	}

	closer, err := logging.Open(cfg.Logfile)
	if err != nil {
		return fmt.Errorf("open logfile: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	p, err := pool.New(pool.Config{
		DriverName:     "mysql",
		DSN:            cfg.DSN(),
		InitConns:      cfg.InitConns,
		MaxIdlingConns: cfg.MaxIdlingConns,
	})
	if err != nil {
		return fmt.Errorf("pool init: %w", err)
	}
	defer p.Shutdown()

	if err := p.With(func(s *pool.Session) error {
		return fs.Bootstrap(context.Background(), s.DB, cfg.Fsck)
	}); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	filesystem := fs.New(p)
	server, err := fuse.NewServer(filesystem, cfg.MountPoint, &fuse.MountOptions{
		AllowOther: cfg.AllowOther,
		Debug:      cfg.Debug,
		Name:       "sqlfs",
		Logger:     logging.Logger{},
	})
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		server.Unmount()
	}()

	logging.Infof("mounted at %s", cfg.MountPoint)
	server.Serve()
	return nil
}

// dumpConfigAndQuit prints the resolved configuration to stderr and
// exits with status 2, mirroring mysqlfs.c's KEY_DEBUG_DNQ option
// handler, used to debug option-handling changes without connecting
// to a database or mounting anything.
func dumpConfigAndQuit(cfg config.Config) {
	fmt.Fprintf(os.Stderr, "DEBUG: Dump and Quit\n\n")
	fmt.Fprintf(os.Stderr, "connect: mysql://%s:%s@%s:%d/%s\n", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	fmt.Fprintf(os.Stderr, "connect: sock://%s\n", cfg.Socket)
	fmt.Fprintf(os.Stderr, "fsck? %s\n", yesNo(cfg.Fsck))
	fmt.Fprintf(os.Stderr, "group: %s\n", cfg.MycnfGroup)
	fmt.Fprintf(os.Stderr, "pool: %d initial connections\n", cfg.InitConns)
	fmt.Fprintf(os.Stderr, "pool: %d idling connections\n", cfg.MaxIdlingConns)
	fmt.Fprintf(os.Stderr, "logfile: file://%s\n", cfg.Logfile)
	fmt.Fprintf(os.Stderr, "bg? %s (debug)\n\n", yesNo(cfg.Background))
	os.Exit(2)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// daemonize is the Go equivalent of mysqlfs.c's `if (0 < opt.bg) { if
// (0 < fork()) return EXIT_SUCCESS; }`: a live Go process cannot
// safely call fork() itself (goroutines, the runtime scheduler), so
// it re-execs itself as a detached child with --background stripped
// and returns immediately, leaving the child to open the log file,
// build the pool, and mount.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("background: %w", err)
	}

	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		if a == "--background" || a == "--background=true" {
			continue
		}
		args = append(args, a)
	}

	child := exec.Command(exe, args...)
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("background: %w", err)
	}
	return nil
}
