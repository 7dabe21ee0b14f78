// Package proc is the process table: it loads programs for exec, tracks
// parent and child processes and hands exit statuses to wait.
package proc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/wnxd/microdbg-userprog/kernel"
	"github.com/wnxd/microdbg-userprog/ulib"
	"github.com/wnxd/microdbg-userprog/usermem"
)

var (
	ErrNotChild      = errors.New("proc: not a child of the caller")
	ErrAlreadyWaited = errors.New("proc: child already waited for")
)

// Program is the body of a user process. Its return value becomes the exit
// status unless it exits itself.
type Program func(t *ulib.Thread, args []string) int

// Loader finds the program an exec names.
type Loader interface {
	Load(name string) (Program, bool)
}

// Registry is a Loader backed by a map of program names.
type Registry map[string]Program

func (r Registry) Load(name string) (Program, bool) {
	prog, ok := r[name]
	return prog, ok
}

type entry struct {
	proc   *kernel.Process
	parent kernel.Pid
	done   chan struct{}
	waited bool
}

// Table implements kernel.ProcessControl.
type Table struct {
	loader Loader
	log    *logrus.Entry

	mu    sync.Mutex
	next  kernel.Pid
	procs map[kernel.Pid]*entry
}

var _ kernel.ProcessControl = (*Table)(nil)

func NewTable(loader Loader, log *logrus.Logger) *Table {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Table{
		loader: loader,
		log:    log.WithField("component", "proc"),
		next:   1,
		procs:  make(map[kernel.Pid]*entry),
	}
}

// ParseCmdline splits a command line into the program name and its
// arguments, the name first.
func ParseCmdline(cmdline string) []string {
	return strings.Fields(cmdline)
}

// Spawn starts cmdline as a child of ctx's process.
func (t *Table) Spawn(ctx *kernel.Context, cmdline string) (kernel.Pid, error) {
	return t.start(ctx.Kernel(), ctx.Process().Pid(), cmdline)
}

// Start starts cmdline as an initial process with no parent process.
func (t *Table) Start(k *kernel.Kernel, cmdline string) (kernel.Pid, error) {
	return t.start(k, 0, cmdline)
}

// Run starts cmdline as an initial process and waits for it to exit.
func (t *Table) Run(k *kernel.Kernel, cmdline string) (int32, error) {
	pid, err := t.Start(k, cmdline)
	if err != nil {
		return -1, err
	}
	return t.wait(context.Background(), 0, pid)
}

func (t *Table) start(k *kernel.Kernel, parent kernel.Pid, cmdline string) (kernel.Pid, error) {
	argv := ParseCmdline(cmdline)
	if len(argv) == 0 {
		return -1, fmt.Errorf("exec %q: empty command line: %w", cmdline, kernel.ErrNoProcess)
	}
	prog, ok := t.loader.Load(argv[0])
	if !ok {
		return -1, fmt.Errorf("exec %q: %w", argv[0], kernel.ErrNoProcess)
	}

	t.mu.Lock()
	pid := t.next
	t.next++
	t.mu.Unlock()

	p := k.NewProcess(pid, argv[0])
	img := ulib.NewImage(k, p, usermem.New(k.Config().PhysBase))
	thread, err := img.NewThread()
	if err != nil {
		return -1, fmt.Errorf("exec %q: %w", argv[0], err)
	}
	e := &entry{proc: p, parent: parent, done: make(chan struct{})}
	t.mu.Lock()
	t.procs[pid] = e
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{"pid": pid, "parent": parent}).Debugf("exec %q", cmdline)
	thread.Start(func(th *ulib.Thread) {
		th.Exit(prog(th, argv))
	})
	return pid, nil
}

// Wait waits for child pid of ctx's process. It gives up when the machine
// halts.
func (t *Table) Wait(ctx *kernel.Context, pid kernel.Pid) (int32, error) {
	return t.wait(ctx, ctx.Process().Pid(), pid)
}

func (t *Table) wait(ctx context.Context, parent, pid kernel.Pid) (int32, error) {
	t.mu.Lock()
	e, ok := t.procs[pid]
	switch {
	case !ok || e.parent != parent:
		t.mu.Unlock()
		return -1, fmt.Errorf("wait %d: %w", pid, ErrNotChild)
	case e.waited:
		t.mu.Unlock()
		return -1, fmt.Errorf("wait %d: %w", pid, ErrAlreadyWaited)
	}
	e.waited = true
	t.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		t.mu.Lock()
		e.waited = false
		t.mu.Unlock()
		return -1, fmt.Errorf("wait %d: %w", pid, ctx.Err())
	}
	status, _ := e.proc.Status()

	t.mu.Lock()
	delete(t.procs, pid)
	t.mu.Unlock()
	return status, nil
}

// Exited wakes the waiter of p. Processes nobody can wait for any more are
// dropped: p itself if its parent is gone, and p's children that already
// exited. Children still running are dropped when they exit.
func (t *Table) Exited(p *kernel.Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.procs[p.Pid()]
	if !ok {
		return
	}
	for pid, child := range t.procs {
		if child.parent == p.Pid() && child.proc.Exited() {
			t.log.WithField("pid", pid).Debug("reaping orphan")
			delete(t.procs, pid)
		}
	}
	if e.parent != 0 {
		if parent, ok := t.procs[e.parent]; !ok || parent.proc.Exited() {
			t.log.WithField("pid", p.Pid()).Debug("reaping orphan")
			delete(t.procs, p.Pid())
		}
	}
	close(e.done)
}

// Lookup returns the live or unreaped process pid.
func (t *Table) Lookup(pid kernel.Pid) (*kernel.Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.procs[pid]
	if !ok {
		return nil, false
	}
	return e.proc, true
}
