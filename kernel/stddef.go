package kernel

import (
	"errors"
	"strconv"
)

type emuptr = uint64

const emunullptr = emuptr(0)

// FD is a per-process file descriptor.
type FD int32

const (
	STDIN_FILENO  FD = 0
	STDOUT_FILENO FD = 1
	STDERR_FILENO FD = 2

	// firstFileFD is the lowest descriptor that can name a file.
	firstFileFD FD = 3
)

func (fd FD) String() string {
	return strconv.Itoa(int(fd))
}

// Pid identifies a process.
type Pid int32

const PAGE_SIZE = 4096

var (
	// ErrFault reports a user address the kernel refused to dereference.
	ErrFault = errors.New("bad user address")
	// ErrNullPath reports a null path pointer.
	ErrNullPath = errors.New("null path")
	// ErrBadFD reports a descriptor with no open file behind it.
	ErrBadFD = errors.New("bad file descriptor")
	// ErrTableFull reports that every descriptor slot is bound.
	ErrTableFull = errors.New("file descriptor table full")
	// ErrNoProcess reports an exec that could not start its child.
	ErrNoProcess = errors.New("no such process")
)
