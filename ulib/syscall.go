package ulib

import (
	userprog "github.com/wnxd/microdbg-userprog"
)

const (
	Stdin  = 0
	Stdout = 1
)

func (t *Thread) Halt() {
	t.Syscall(userprog.NR_halt)
}

func (t *Thread) Exit(status int) {
	t.Syscall(userprog.NR_exit, uint64(status))
}

// Exec starts cmdline as a child process and returns its pid, or -1.
func (t *Thread) Exec(cmdline string) int {
	return t.Int(t.Syscall(userprog.NR_exec, t.CString(cmdline)))
}

func (t *Thread) Wait(pid int) int {
	return t.Int(t.Syscall(userprog.NR_wait, uint64(pid)))
}

func (t *Thread) Create(name string, size uint) bool {
	return t.Syscall(userprog.NR_create, t.CString(name), uint64(size)) != userprog.False
}

func (t *Thread) Remove(name string) bool {
	return t.Syscall(userprog.NR_remove, t.CString(name)) != userprog.False
}

func (t *Thread) Open(name string) int {
	return t.Int(t.Syscall(userprog.NR_open, t.CString(name)))
}

func (t *Thread) Filesize(fd int) int {
	return t.Int(t.Syscall(userprog.NR_filesize, uint64(fd)))
}

// Read reads up to len(p) bytes from fd into p. Whatever the kernel stored
// in the user buffer is copied to p, even when the call fails.
func (t *Thread) Read(fd int, p []byte) int {
	buf := t.Alloc(len(p))
	n := t.Int(t.Syscall(userprog.NR_read, uint64(fd), buf, uint64(len(p))))
	t.img.as.Read(buf, p)
	return n
}

func (t *Thread) Write(fd int, p []byte) int {
	return t.Int(t.Syscall(userprog.NR_write, uint64(fd), t.Buffer(p), uint64(len(p))))
}

func (t *Thread) Seek(fd int, position uint) {
	t.Syscall(userprog.NR_seek, uint64(fd), uint64(position))
}

func (t *Thread) Tell(fd int) uint {
	return uint(t.Syscall(userprog.NR_tell, uint64(fd)))
}

func (t *Thread) Close(fd int) {
	t.Syscall(userprog.NR_close, uint64(fd))
}

func (t *Thread) Fibonacci(n int) int {
	return t.Int(t.Syscall(userprog.NR_fibonacci, uint64(n)))
}

func (t *Thread) MaxOfFourInt(a, b, c, d int) int {
	return t.Int(t.Syscall(userprog.NR_max_of_four_int, uint64(a), uint64(b), uint64(c), uint64(d)))
}

// Puts writes s to the console.
func (t *Thread) Puts(s string) {
	t.Write(Stdout, []byte(s))
}
