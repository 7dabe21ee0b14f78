package kernel

import (
	userprog "github.com/wnxd/microdbg-userprog"
)

// Call describes one system call: its name, how many argument words it
// takes off the user stack and its handler. A handler returning an error
// kills the calling process with status -1.
type Call struct {
	Name string
	Args int
	Fn   func(ctx *Context, args [maxArgs]Arg) (uint64, error)
}

type Syscall struct {
	fcntl
	sched
	misc
}

// Get returns the call registered under nr, or nil if nr is not part of the
// ABI.
func (sys *Syscall) Get(nr userprog.NR) *Call {
	switch nr {
	case userprog.NR_halt:
		return &Call{"halt", 0, sys.Emulate_halt}
	case userprog.NR_exit:
		return &Call{"exit", 1, sys.Emulate_exit}
	case userprog.NR_exec:
		return &Call{"exec", 1, sys.Emulate_exec}
	case userprog.NR_wait:
		return &Call{"wait", 1, sys.Emulate_wait}
	case userprog.NR_create:
		return &Call{"create", 2, sys.Emulate_create}
	case userprog.NR_remove:
		return &Call{"remove", 1, sys.Emulate_remove}
	case userprog.NR_open:
		return &Call{"open", 1, sys.Emulate_open}
	case userprog.NR_filesize:
		return &Call{"filesize", 1, sys.Emulate_filesize}
	case userprog.NR_read:
		return &Call{"read", 3, sys.Emulate_read}
	case userprog.NR_write:
		return &Call{"write", 3, sys.Emulate_write}
	case userprog.NR_seek:
		return &Call{"seek", 2, sys.Emulate_seek}
	case userprog.NR_tell:
		return &Call{"tell", 1, sys.Emulate_tell}
	case userprog.NR_close:
		return &Call{"close", 1, sys.Emulate_close}
	case userprog.NR_fibonacci:
		return &Call{"fibonacci", 1, sys.Emulate_fibonacci}
	case userprog.NR_max_of_four_int:
		return &Call{"max_of_four_int", 4, sys.Emulate_max_of_four_int}
	}
	return nil
}

// Table returns every supported call keyed by number.
func (sys *Syscall) Table() map[userprog.NR]*Call {
	table := make(map[userprog.NR]*Call)
	for nr := userprog.NR(0); nr <= userprog.NR_max_of_four_int; nr++ {
		if call := sys.Get(nr); call != nil {
			table[nr] = call
		}
	}
	return table
}

func (sys *Syscall) Emulate_halt(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	sys.misc.halt(ctx)
	return 0, nil
}

func (sys *Syscall) Emulate_exit(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	sys.sched.exit(ctx, args[0].Int())
	return 0, nil
}

func (sys *Syscall) Emulate_exec(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	r, err := sys.sched.exec(ctx, args[0].Pointer())
	return result(int64(r)), err
}

func (sys *Syscall) Emulate_wait(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	r := sys.sched.wait(ctx, Pid(args[0].Int()))
	return result(int64(r)), nil
}

func (sys *Syscall) Emulate_create(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	ok, err := sys.fcntl.create(ctx, args[0].Pointer(), uint64(args[1].Uint()))
	return boolResult(ok), err
}

func (sys *Syscall) Emulate_remove(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	ok, err := sys.fcntl.remove(ctx, args[0].Pointer())
	return boolResult(ok), err
}

func (sys *Syscall) Emulate_open(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	fd, err := sys.fcntl.open(ctx, args[0].Pointer())
	return result(int64(fd)), err
}

func (sys *Syscall) Emulate_filesize(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	return sys.fcntl.filesize(ctx, args[0].FD())
}

func (sys *Syscall) Emulate_read(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	n, err := sys.fcntl.read(ctx, args[0].FD(), args[1].Pointer(), uint64(args[2].Uint()))
	return result(n), err
}

func (sys *Syscall) Emulate_write(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	n, err := sys.fcntl.write(ctx, args[0].FD(), args[1].Pointer(), uint64(args[2].Uint()))
	return result(n), err
}

func (sys *Syscall) Emulate_seek(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	return 0, sys.fcntl.seek(ctx, args[0].FD(), uint64(args[1].Uint()))
}

func (sys *Syscall) Emulate_tell(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	return sys.fcntl.tell(ctx, args[0].FD())
}

func (sys *Syscall) Emulate_close(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	return 0, sys.fcntl.close(ctx, args[0].FD())
}

func (sys *Syscall) Emulate_fibonacci(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	return result(int64(fibonacci(args[0].Int()))), nil
}

func (sys *Syscall) Emulate_max_of_four_int(ctx *Context, args [maxArgs]Arg) (uint64, error) {
	r := maxOfFourInt(args[0].Int(), args[1].Int(), args[2].Int(), args[3].Int())
	return result(int64(r)), nil
}

func boolResult(ok bool) uint64 {
	if ok {
		return userprog.True
	}
	return userprog.False
}
