// Package ulib is the user side of the system call ABI. A Thread pushes
// arguments on its stack in user memory, traps into the kernel and reads the
// result register back, the way the syscall stubs of a C library do.
package ulib

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"

	userprog "github.com/wnxd/microdbg-userprog"
	"github.com/wnxd/microdbg-userprog/kernel"
	"github.com/wnxd/microdbg-userprog/usermem"
)

const (
	// StackSize is the mapped stack of each thread.
	StackSize = 16 * usermem.PageSize
	// stackSpan separates the stacks of consecutive threads; the gap
	// between them stays unmapped.
	stackSpan = 2 * StackSize

	// ArenaBase is where each thread's scratch arena for strings and
	// buffers starts.
	ArenaBase = 0x10000000
	arenaSpan = 0x01000000
)

// Image is the user memory of a process shared by its threads.
type Image struct {
	k    *kernel.Kernel
	proc *kernel.Process
	as   *usermem.AddressSpace

	mu      sync.Mutex
	threads int
}

func NewImage(k *kernel.Kernel, p *kernel.Process, as *usermem.AddressSpace) *Image {
	return &Image{k: k, proc: p, as: as}
}

func (img *Image) AddressSpace() *usermem.AddressSpace {
	return img.as
}

func (img *Image) Process() *kernel.Process {
	return img.proc
}

// NewThread maps a stack and a scratch arena for a new thread.
func (img *Image) NewThread() (*Thread, error) {
	img.mu.Lock()
	i := img.threads
	img.threads++
	img.mu.Unlock()

	top := img.as.PhysBase() - uint64(i)*stackSpan
	if err := img.as.Map(top-StackSize, StackSize); err != nil {
		return nil, fmt.Errorf("thread %d stack: %w", i, err)
	}
	return &Thread{
		img:      img,
		wordSize: img.k.Config().WordSize,
		stackTop: top,
		arena:    ArenaBase + uint64(i)*arenaSpan,
	}, nil
}

// Thread is one user thread. Its methods must only be called from the
// goroutine started by Start.
type Thread struct {
	img      *Image
	wordSize int
	stackTop uint64

	arena  uint64
	mapped uint64
	used   uint64
}

func (t *Thread) Image() *Image {
	return t.img
}

// Start runs fn as the body of t on a new goroutine. The returned channel
// is closed when fn returns or the thread is terminated by the kernel.
func (t *Thread) Start(fn func(t *Thread)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(t)
	}()
	return done
}

// Go starts fn on a new thread of the same process.
func (t *Thread) Go(fn func(t *Thread)) (<-chan struct{}, error) {
	nt, err := t.img.NewThread()
	if err != nil {
		return nil, err
	}
	return nt.Start(fn), nil
}

// frame is the trap frame of a thread.
type frame struct {
	as     *usermem.AddressSpace
	sp     uint64
	word   int
	result uint64
}

func (f *frame) StackPointer() uint64 {
	return f.sp
}

func (f *frame) MemRead(addr uint64, p []byte) error {
	return f.as.Read(addr, p)
}

func (f *frame) MemWrite(addr uint64, p []byte) error {
	return f.as.Write(addr, p)
}

func (f *frame) SetResult(v uint64) {
	if f.word == 4 {
		v = uint64(uint32(v))
	}
	f.result = v
}

// Syscall traps with nr and args pushed on the stack and returns the raw
// result register. If the kernel terminates the process the thread ends
// here and Syscall does not return.
func (t *Thread) Syscall(nr userprog.NR, args ...uint64) uint64 {
	return t.SyscallAt(t.stackTop, nr, args...)
}

// SyscallAt is Syscall with an explicit stack top.
func (t *Thread) SyscallAt(top uint64, nr userprog.NR, args ...uint64) uint64 {
	defer t.reset()
	w := uint64(t.wordSize)
	sp := top - uint64(len(args)+1)*w
	words := make([]byte, 0, (len(args)+1)*t.wordSize)
	for _, v := range append([]uint64{uint64(nr)}, args...) {
		if t.wordSize == 4 {
			words = binary.LittleEndian.AppendUint32(words, uint32(v))
		} else {
			words = binary.LittleEndian.AppendUint64(words, v)
		}
	}
	// A stack the kernel cannot read is its problem to report.
	t.img.as.Write(sp, words)
	f := &frame{as: t.img.as, sp: sp, word: t.wordSize}
	switch t.img.k.Handle(f, t.img.proc) {
	case kernel.Resume:
		return f.result
	default:
		runtime.Goexit()
	}
	panic("unreachable")
}

// Int converts a result register to the signed value it holds.
func (t *Thread) Int(r uint64) int {
	if t.wordSize == 4 {
		return int(int32(uint32(r)))
	}
	return int(int64(r))
}

// Alloc reserves n bytes of the thread's arena until the end of the next
// system call.
func (t *Thread) Alloc(n int) uint64 {
	addr := t.arena + t.used
	t.used += uint64(n)
	if t.used > t.mapped {
		size := usermem.PageRoundUp(t.used)
		if err := t.img.as.Map(t.arena, size); err != nil {
			panic(err)
		}
		t.mapped = size
	}
	return addr
}

// CString copies s and its terminator into the arena.
func (t *Thread) CString(s string) uint64 {
	addr := t.Alloc(len(s) + 1)
	t.img.as.Write(addr, append([]byte(s), 0))
	return addr
}

// Buffer copies p into the arena.
func (t *Thread) Buffer(p []byte) uint64 {
	addr := t.Alloc(len(p))
	t.img.as.Write(addr, p)
	return addr
}

func (t *Thread) reset() {
	t.used = 0
}
