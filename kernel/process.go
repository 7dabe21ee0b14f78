package kernel

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Process is the kernel side state a process's threads share: its
// descriptor table, its file access coordinator and its exit status.
type Process struct {
	pid    Pid
	name   string
	files  *FDTable
	access *AccessCoordinator
	log    *logrus.Entry

	mu     sync.Mutex
	exited bool
	status int32
}

// NewProcess creates the kernel state of a process named name.
func (k *Kernel) NewProcess(pid Pid, name string) *Process {
	return &Process{
		pid:    pid,
		name:   name,
		files:  NewFDTable(k.cfg.MaxFiles),
		access: NewAccessCoordinator(),
		log:    k.log.WithFields(logrus.Fields{"pid": pid, "proc": name}),
	}
}

func (p *Process) Pid() Pid {
	return p.pid
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Files() *FDTable {
	return p.files
}

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Status returns the exit status once the process has terminated.
func (p *Process) Status() (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited
}

// markExited latches the exit status. Only the first caller gets true.
func (p *Process) markExited(status int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}
	p.exited = true
	p.status = status
	return true
}
