package kernel

import (
	"fmt"
	"sync"

	userprog "github.com/wnxd/microdbg-userprog"
)

// slot is either empty or bound to exactly one open file.
type slot struct {
	bound bool
	file  userprog.File
}

// FDTable maps descriptors to open files for one process. Descriptors 0
// through 2 are reserved for the console and are never bound.
type FDTable struct {
	mu    sync.Mutex
	slots []slot
	used  int
}

func NewFDTable(capacity int) *FDTable {
	return &FDTable{slots: make([]slot, capacity)}
}

// Cap returns the number of descriptor slots, reserved ones included.
func (t *FDTable) Cap() int {
	return len(t.slots)
}

// Len returns the number of bound descriptors.
func (t *FDTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Allocate binds file to the lowest free descriptor. A process opening its
// own executable gets a deny-write handle. On ErrTableFull the file is left
// open for the caller to dispose of.
func (t *FDTable) Allocate(file userprog.File, openerName, openedPath string) (FD, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd := firstFileFD; int(fd) < len(t.slots); fd++ {
		if t.slots[fd].bound {
			continue
		}
		if openerName == openedPath {
			file.DenyWrite()
		}
		t.slots[fd] = slot{bound: true, file: file}
		t.used++
		return fd, nil
	}
	return -1, ErrTableFull
}

// Get returns the file bound to fd. Out of range descriptors are empty.
func (t *FDTable) Get(fd FD) (userprog.File, bool) {
	if fd < 0 || int(fd) >= len(t.slots) {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots[fd]
	return s.file, s.bound
}

// Release closes the file bound to fd and empties the slot.
func (t *FDTable) Release(fd FD) error {
	if fd < 0 || int(fd) >= len(t.slots) {
		return fmt.Errorf("close %d: %w", fd, ErrBadFD)
	}
	t.mu.Lock()
	s := t.slots[fd]
	if !s.bound {
		t.mu.Unlock()
		return fmt.Errorf("close %d: %w", fd, ErrBadFD)
	}
	t.slots[fd] = slot{}
	t.used--
	t.mu.Unlock()
	return s.file.Close()
}

// ReleaseAll closes every bound descriptor in ascending order.
func (t *FDTable) ReleaseAll() {
	t.mu.Lock()
	var files []userprog.File
	for fd := firstFileFD; int(fd) < len(t.slots); fd++ {
		if t.slots[fd].bound {
			files = append(files, t.slots[fd].file)
			t.slots[fd] = slot{}
		}
	}
	t.used = 0
	t.mu.Unlock()
	for _, file := range files {
		file.Close()
	}
}

// ForEach calls fn for every bound descriptor in ascending order.
func (t *FDTable) ForEach(fn func(fd FD, file userprog.File)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd := firstFileFD; int(fd) < len(t.slots); fd++ {
		if s := t.slots[fd]; s.bound {
			fn(fd, s.file)
		}
	}
}
