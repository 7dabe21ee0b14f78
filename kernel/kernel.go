package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	userprog "github.com/wnxd/microdbg-userprog"
	"golang.org/x/time/rate"
)

// Config holds the ABI parameters of the gateway.
type Config struct {
	// PhysBase is the first kernel address; user memory lies below it.
	PhysBase uint64 `toml:"phys_base"`
	// WordSize is the width in bytes of a stack slot, 4 or 8.
	WordSize int `toml:"word_size"`
	// MaxFiles is the descriptor table capacity, reserved slots included.
	MaxFiles int `toml:"max_files"`
	// MaxPath bounds the length of path strings read from user memory.
	MaxPath int `toml:"max_path"`
}

func DefaultConfig() Config {
	return Config{
		PhysBase: 0xc0000000,
		WordSize: 4,
		MaxFiles: 128,
		MaxPath:  PAGE_SIZE,
	}
}

func (c Config) Validate() error {
	if c.WordSize != 4 && c.WordSize != 8 {
		return fmt.Errorf("word_size %d: must be 4 or 8", c.WordSize)
	}
	if c.MaxFiles <= int(firstFileFD) {
		return fmt.Errorf("max_files %d: must exceed %d", c.MaxFiles, firstFileFD)
	}
	if c.PhysBase <= PAGE_SIZE {
		return fmt.Errorf("phys_base %#x: must be above the null page", c.PhysBase)
	}
	if c.MaxPath <= 0 {
		return fmt.Errorf("max_path %d: must be positive", c.MaxPath)
	}
	return nil
}

// ProcessControl starts and reaps processes on behalf of exec, wait and
// exit.
type ProcessControl interface {
	// Spawn starts cmdline as a child of ctx's process and returns once
	// the child has loaded.
	Spawn(ctx *Context, cmdline string) (Pid, error)
	// Wait blocks until child pid of ctx's process exits and returns its
	// status. It fails unless pid is a direct child that has not been
	// waited for, or once ctx is done.
	Wait(ctx *Context, pid Pid) (int32, error)
	// Exited wakes anyone waiting on p.
	Exited(p *Process)
}

// Devices are the collaborators the gateway drives.
type Devices struct {
	FS      userprog.FileSystem
	Console userprog.Console
	Power   userprog.Power
	Procs   ProcessControl
}

// Outcome tells the trap source what the trapped thread does next.
type Outcome int

const (
	// Resume returns to user mode with the result register set.
	Resume Outcome = iota
	// Exited means the thread's process has terminated.
	Exited
	// Halted means the machine was powered off.
	Halted
)

func (o Outcome) String() string {
	switch o {
	case Resume:
		return "resume"
	case Exited:
		return "exited"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

type Kernel struct {
	cfg       Config
	validator Validator
	dev       Devices
	sys       Syscall
	log       *logrus.Entry
	rejects   *rate.Limiter
	calls     atomic.Uint64

	// ctx is canceled by halt.
	ctx  context.Context
	halt context.CancelFunc
}

func NewKernel(cfg Config, dev Devices, log *logrus.Logger) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dev.FS == nil || dev.Console == nil || dev.Power == nil || dev.Procs == nil {
		return nil, errors.New("kernel: missing device")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	k := &Kernel{
		cfg:       cfg,
		validator: Validator{Low: PAGE_SIZE, PhysBase: cfg.PhysBase},
		dev:       dev,
		log:       log.WithField("component", "kernel"),
		rejects:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
	k.ctx, k.halt = context.WithCancel(context.Background())
	return k, nil
}

func (k *Kernel) Config() Config {
	return k.cfg
}

func (k *Kernel) Validator() Validator {
	return k.validator
}

func (k *Kernel) NR(no uint64) userprog.NR {
	return userprog.NR(no)
}

func (k *Kernel) Syscall() *Syscall {
	return &k.sys
}

// Halted reports whether a process has powered the machine off.
func (k *Kernel) Halted() bool {
	return k.ctx.Err() != nil
}

// Syscalls returns the number of traps handled so far.
func (k *Kernel) Syscalls() uint64 {
	return k.calls.Load()
}

// Context is the kernel's view of one trapped call.
type Context struct {
	context.Context
	k       *Kernel
	proc    *Process
	frame   userprog.Frame
	outcome Outcome
}

func (ctx *Context) Kernel() *Kernel {
	return ctx.k
}

func (ctx *Context) Process() *Process {
	return ctx.proc
}

// Handle services the trap described by frame, raised by a thread of p.
// Once the machine has halted every trap is refused.
func (k *Kernel) Handle(frame userprog.Frame, p *Process) Outcome {
	if k.Halted() {
		return Halted
	}
	if p.Exited() {
		return Exited
	}
	k.calls.Add(1)
	ctx := &Context{Context: k.ctx, k: k, proc: p, frame: frame}
	dec := NewDecoder(frame, k.validator, k.cfg.WordSize)
	nr, err := dec.Number()
	if err != nil {
		k.kill(ctx, err)
		return Exited
	}
	call := k.sys.Get(nr)
	if call == nil {
		if k.rejects.Allow() {
			p.log.Warnf("unsupported syscall %v", nr)
		}
		frame.SetResult(userprog.Failure)
		return Resume
	}
	args, err := dec.Args(call.Args)
	if err != nil {
		k.kill(ctx, fmt.Errorf("%v: %w", nr, err))
		return Exited
	}
	r, err := call.Fn(ctx, args)
	if err != nil {
		if k.Halted() {
			// Blocked in the access coordinator when the machine went off.
			return Halted
		}
		k.kill(ctx, fmt.Errorf("%v: %w", nr, err))
		return Exited
	}
	if ctx.outcome != Resume {
		p.log.Debugf("%v(%s) = %v", nr, formatArgs(args[:call.Args]), ctx.outcome)
		return ctx.outcome
	}
	p.log.Debugf("%v(%s) = %d", nr, formatArgs(args[:call.Args]), int64(r))
	frame.SetResult(r)
	return Resume
}

// kill terminates ctx's process because of a fault it caused.
func (k *Kernel) kill(ctx *Context, cause error) {
	ctx.proc.log.WithError(cause).Info("killing process")
	k.exit(ctx, -1)
}

// exit terminates ctx's process with status. Every descriptor is closed
// before waiters are woken.
func (k *Kernel) exit(ctx *Context, status int32) {
	p := ctx.proc
	ctx.outcome = Exited
	if !p.markExited(status) {
		return
	}
	p.files.ReleaseAll()
	k.dev.Console.WriteBuffer([]byte(fmt.Sprintf("%s: exit(%d)\n", p.name, status)))
	k.dev.Procs.Exited(p)
}

func formatArgs(args []Arg) string {
	var s string
	for i, a := range args {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%#x", uint64(a))
	}
	return s
}

// result converts a signed syscall result to a register value.
func result(v int64) uint64 {
	return uint64(v)
}
