package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/containerd/console"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"github.com/wnxd/microdbg-userprog/config"
	userconsole "github.com/wnxd/microdbg-userprog/console"
	"github.com/wnxd/microdbg-userprog/filesys"
	"github.com/wnxd/microdbg-userprog/internal/programs"
	"github.com/wnxd/microdbg-userprog/kernel"
	"github.com/wnxd/microdbg-userprog/machine"
	"github.com/wnxd/microdbg-userprog/proc"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	config string
	fsDir  string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "Run a command line as the initial process, then power off."
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <program> [args...] - Run a user program.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.config, "config", "", "TOML configuration file.")
	f.StringVar(&r.fsDir, "fs", "", "Host directory whose files seed the file system.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cmdline := strings.Join(f.Args(), " ")

	cfg := config.Default()
	if r.config != "" {
		var err error
		if cfg, err = config.Load(r.config); err != nil {
			Fatalf("%v", err)
		}
	}
	log, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		Fatalf("%v", err)
	}

	registry := programs.Registry()
	fs := filesys.New()
	if err := programs.Install(fs, registry); err != nil {
		Fatalf("installing programs: %v", err)
	}
	if r.fsDir != "" {
		if err := fs.Load(r.fsDir); err != nil {
			Fatalf("loading %s: %v", r.fsDir, err)
		}
	}

	cons := userconsole.New(os.Stdin, os.Stdout)
	m := machine.New(os.Stdout, cfg.Machine.HostStats, log)
	table := proc.NewTable(registry, log)
	k, err := kernel.NewKernel(cfg.Kernel, kernel.Devices{
		FS:      fs,
		Console: cons,
		Power:   m,
		Procs:   table,
	}, log)
	if err != nil {
		Fatalf("%v", err)
	}
	m.AddCounter("Syscalls", k.Syscalls)
	m.AddCounter("Console: keys read", cons.Read)
	m.AddCounter("Console: characters written", cons.Written)

	if cfg.Console.Raw {
		if restore := rawTerminal(log); restore != nil {
			defer restore()
		}
	}

	type exit struct {
		status int32
		err    error
	}
	done := make(chan exit, 1)
	go func() {
		status, err := table.Run(k, cmdline)
		done <- exit{status, err}
	}()

	status := subcommands.ExitSuccess
	select {
	case e := <-done:
		if e.err != nil {
			log.WithError(e.err).Errorf("run %q", cmdline)
			status = subcommands.ExitFailure
		} else if e.status != 0 {
			status = subcommands.ExitFailure
		}
		m.PowerOff()
	case <-m.Off():
	}
	return status
}

// rawTerminal puts stdin into raw mode if it is a terminal and returns the
// function restoring it.
func rawTerminal(log *logrus.Logger) func() {
	c, err := console.ConsoleFromFile(os.Stdin)
	if err != nil {
		log.WithError(err).Debug("stdin is not a terminal")
		return nil
	}
	if err := c.SetRaw(); err != nil {
		log.WithError(err).Warn("raw mode")
		return nil
	}
	if ws, err := c.Size(); err == nil {
		log.Debugf("terminal %dx%d", ws.Width, ws.Height)
	}
	return func() {
		if err := c.Reset(); err != nil {
			log.WithError(err).Warn("restoring terminal")
		}
	}
}
