package userprog

import "strconv"

// NR is a system call number as pushed by user code on top of its stack.
type NR uint32

const (
	NR_halt NR = iota
	NR_exit
	NR_exec
	NR_wait
	NR_create
	NR_remove
	NR_open
	NR_filesize
	NR_read
	NR_write
	NR_seek
	NR_tell
	NR_close
)

const (
	NR_fibonacci NR = iota + 20
	NR_max_of_four_int
)

// Return values observed by user code.
const (
	Failure = ^uint64(0)
	False   = uint64(0)
	True    = uint64(1)
)

var names = map[NR]string{
	NR_halt:            "halt",
	NR_exit:            "exit",
	NR_exec:            "exec",
	NR_wait:            "wait",
	NR_create:          "create",
	NR_remove:          "remove",
	NR_open:            "open",
	NR_filesize:        "filesize",
	NR_read:            "read",
	NR_write:           "write",
	NR_seek:            "seek",
	NR_tell:            "tell",
	NR_close:           "close",
	NR_fibonacci:       "fibonacci",
	NR_max_of_four_int: "max_of_four_int",
}

func (nr NR) String() string {
	if name, ok := names[nr]; ok {
		return name
	}
	return "syscall_" + strconv.FormatUint(uint64(nr), 10)
}
