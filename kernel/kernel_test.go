package kernel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	userprog "github.com/wnxd/microdbg-userprog"
	"github.com/wnxd/microdbg-userprog/filesys"
)

const (
	physBase  = 0xc0000000
	frameSize = 0x10000
	frameBase = physBase - frameSize
	// dataBase is where tests place strings and buffers.
	dataBase = frameBase + 0x100
)

var errUnmapped = errors.New("unmapped")

// fakeFrame is a trap frame over the top frameSize bytes of user memory.
type fakeFrame struct {
	mem      []byte
	wordSize int
	sp       uint64
	result   uint64
	set      bool
}

func newFakeFrame(wordSize int) *fakeFrame {
	return &fakeFrame{mem: make([]byte, frameSize), wordSize: wordSize}
}

func (f *fakeFrame) StackPointer() uint64 {
	return f.sp
}

func (f *fakeFrame) span(addr uint64, n int) ([]byte, error) {
	if addr < frameBase || addr+uint64(n) > physBase {
		return nil, fmt.Errorf("%#x: %w", addr, errUnmapped)
	}
	off := addr - frameBase
	return f.mem[off : off+uint64(n)], nil
}

func (f *fakeFrame) MemRead(addr uint64, p []byte) error {
	b, err := f.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

func (f *fakeFrame) MemWrite(addr uint64, p []byte) error {
	b, err := f.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

func (f *fakeFrame) SetResult(v uint64) {
	f.result = v
	f.set = true
}

// put stores p at addr, which must lie in the frame.
func (f *fakeFrame) put(addr uint64, p []byte) {
	if err := f.MemWrite(addr, p); err != nil {
		panic(err)
	}
}

func (f *fakeFrame) get(addr uint64, n int) []byte {
	b, err := f.span(addr, n)
	if err != nil {
		panic(err)
	}
	return append([]byte(nil), b...)
}

// pushAt writes nr and args as stack words ending at top and points the
// stack pointer at nr.
func (f *fakeFrame) pushAt(top uint64, nr userprog.NR, args ...uint64) {
	words := append([]uint64{uint64(nr)}, args...)
	sp := top - uint64(len(words)*f.wordSize)
	var b []byte
	for _, w := range words {
		if f.wordSize == 4 {
			b = binary.LittleEndian.AppendUint32(b, uint32(w))
		} else {
			b = binary.LittleEndian.AppendUint64(b, w)
		}
	}
	f.put(sp, b)
	f.sp = sp
	f.set = false
}

type fakeConsole struct {
	mu     sync.Mutex
	in     []byte
	pos    int
	out    bytes.Buffer
	writes int
}

func (c *fakeConsole) ReadChar() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.in) {
		return 0
	}
	b := c.in[c.pos]
	c.pos++
	return b
}

func (c *fakeConsole) WriteBuffer(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Write(p)
	c.writes++
}

func (c *fakeConsole) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

type fakePower struct {
	off int
}

func (p *fakePower) PowerOff() {
	p.off++
}

type fakeProcs struct {
	mu       sync.Mutex
	spawned  []string
	children map[Pid]int32
	exited   []Pid
}

func (p *fakeProcs) Spawn(ctx *Context, cmdline string) (Pid, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cmdline != "child x" {
		return -1, ErrNoProcess
	}
	p.spawned = append(p.spawned, cmdline)
	return 7, nil
}

func (p *fakeProcs) Wait(ctx *Context, pid Pid) (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.children[pid]
	if !ok {
		return -1, errors.New("not a child")
	}
	delete(p.children, pid)
	return status, nil
}

func (p *fakeProcs) Exited(proc *Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = append(p.exited, proc.Pid())
}

type testEnv struct {
	k     *Kernel
	p     *Process
	frame *fakeFrame
	cons  *fakeConsole
	power *fakePower
	procs *fakeProcs
	fs    *filesys.FS
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		frame: newFakeFrame(4),
		cons:  &fakeConsole{},
		power: &fakePower{},
		procs: &fakeProcs{children: map[Pid]int32{7: 42}},
		fs:    filesys.New(),
	}
	k, err := NewKernel(DefaultConfig(), Devices{
		FS:      e.fs,
		Console: e.cons,
		Power:   e.power,
		Procs:   e.procs,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	e.k = k
	e.p = k.NewProcess(1, "test")
	return e
}

// call traps nr with args pushed at the top of user memory.
func (e *testEnv) call(nr userprog.NR, args ...uint64) (int64, Outcome) {
	e.frame.pushAt(physBase, nr, args...)
	o := e.k.Handle(e.frame, e.p)
	return int64(int32(uint32(e.frame.result))), o
}

// str places a NUL terminated string at addr.
func (e *testEnv) str(addr uint64, s string) uint64 {
	e.frame.put(addr, append([]byte(s), 0))
	return addr
}

// neg encodes a negative int32 as a stack word.
func neg(v int32) uint64 {
	return uint64(uint32(v))
}

func TestNewKernelMissingDevice(t *testing.T) {
	_, err := NewKernel(DefaultConfig(), Devices{Console: &fakeConsole{}}, testLogger())
	if err == nil {
		t.Fatal("NewKernel without devices succeeded")
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		edit func(*Config)
		ok   bool
	}{
		{"default", func(*Config) {}, true},
		{"word size 8", func(c *Config) { c.WordSize = 8 }, true},
		{"word size 2", func(c *Config) { c.WordSize = 2 }, false},
		{"too few files", func(c *Config) { c.MaxFiles = 3 }, false},
		{"phys base in null page", func(c *Config) { c.PhysBase = PAGE_SIZE }, false},
		{"no path", func(c *Config) { c.MaxPath = 0 }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.edit(&c)
			if err := c.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok %v", err, tc.ok)
			}
		})
	}
}

func TestUnknownOpcode(t *testing.T) {
	e := newTestEnv(t)
	for _, nr := range []userprog.NR{13, 19, 22, 99, 0xffff} {
		r, o := e.call(nr, 1, 2, 3, 4)
		if o != Resume || r != -1 {
			t.Errorf("call %v = (%d, %v), want (-1, resume)", nr, r, o)
		}
		if e.frame.result != userprog.Failure {
			t.Errorf("call %v result register %#x, want %#x", nr, e.frame.result, userprog.Failure)
		}
	}
	if e.p.Exited() {
		t.Error("process exited after unknown opcodes")
	}
}

func TestExit(t *testing.T) {
	e := newTestEnv(t)
	fd := openFile(t, e, "f", 4)

	if _, o := e.call(userprog.NR_exit, 3); o != Exited {
		t.Fatalf("exit outcome %v, want exited", o)
	}
	if got, want := e.cons.String(), "test: exit(3)\n"; got != want {
		t.Errorf("console %q, want %q", got, want)
	}
	if status, ok := e.p.Status(); !ok || status != 3 {
		t.Errorf("Status() = %d, %v, want 3, true", status, ok)
	}
	if _, ok := e.p.Files().Get(fd); ok {
		t.Errorf("fd %d still bound after exit", fd)
	}
	if diff := cmp.Diff([]Pid{1}, e.procs.exited); diff != "" {
		t.Errorf("exited (-want +got):\n%s", diff)
	}

	// A later trap from another thread of the process does nothing.
	calls := e.k.Syscalls()
	if _, o := e.call(userprog.NR_write, 1, dataBase, 1); o != Exited {
		t.Errorf("trap after exit outcome %v, want exited", o)
	}
	if e.k.Syscalls() != calls {
		t.Error("trap after exit was dispatched")
	}
	if e.cons.writes != 1 {
		t.Errorf("console written %d times, want 1", e.cons.writes)
	}
}

func TestExitNegativeStatus(t *testing.T) {
	e := newTestEnv(t)
	e.call(userprog.NR_exit, neg(-5))
	if got, want := e.cons.String(), "test: exit(-5)\n"; got != want {
		t.Errorf("console %q, want %q", got, want)
	}
}

func TestHalt(t *testing.T) {
	e := newTestEnv(t)
	if _, o := e.call(userprog.NR_halt); o != Halted {
		t.Fatalf("halt outcome %v, want halted", o)
	}
	if e.power.off != 1 {
		t.Errorf("powered off %d times, want 1", e.power.off)
	}
	if e.frame.set {
		t.Error("halt set a result")
	}
}

func TestTrapAfterHalt(t *testing.T) {
	e := newTestEnv(t)
	other := e.k.NewProcess(2, "other")
	e.call(userprog.NR_halt)
	if !e.k.Halted() {
		t.Fatal("Halted() = false after halt")
	}
	calls := e.k.Syscalls()

	e.frame.put(dataBase, []byte("after"))
	for _, p := range []*Process{e.p, other} {
		e.frame.pushAt(physBase, userprog.NR_write, uint64(STDOUT_FILENO), dataBase, 5)
		if o := e.k.Handle(e.frame, p); o != Halted {
			t.Errorf("%s: write after halt outcome %v, want halted", p.Name(), o)
		}
		if e.frame.set {
			t.Errorf("%s: write after halt set a result", p.Name())
		}
	}
	if got := e.cons.String(); got != "" {
		t.Errorf("console %q after halt, want nothing", got)
	}
	if e.k.Syscalls() != calls {
		t.Error("trap after halt was dispatched")
	}
	if e.power.off != 1 {
		t.Errorf("powered off %d times, want 1", e.power.off)
	}
	if other.Exited() {
		t.Error("halt exited another process")
	}
}

// TestBadStackPointer traps with the stack pointer outside user memory.
func TestBadStackPointer(t *testing.T) {
	for _, tc := range []struct {
		name string
		sp   uint64
	}{
		{"null", 0},
		{"null page", PAGE_SIZE - 4},
		{"kernel", physBase},
		{"straddles kernel", physBase - 2},
		{"unmapped", frameBase - 0x1000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.frame.sp = tc.sp
			if o := e.k.Handle(e.frame, e.p); o != Exited {
				t.Fatalf("outcome %v, want exited", o)
			}
			if got, want := e.cons.String(), "test: exit(-1)\n"; got != want {
				t.Errorf("console %q, want %q", got, want)
			}
		})
	}
}

func TestArgumentBeyondUserMemory(t *testing.T) {
	e := newTestEnv(t)
	// The number is readable but its first argument lies at the boundary.
	e.frame.pushAt(physBase, userprog.NR_exit)
	if o := e.k.Handle(e.frame, e.p); o != Exited {
		t.Fatalf("outcome %v, want exited", o)
	}
	if status, _ := e.p.Status(); status != -1 {
		t.Errorf("status %d, want -1", status)
	}
}

func TestSyscallCount(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		e.call(userprog.NR_fibonacci, 3)
	}
	if got := e.k.Syscalls(); got != 3 {
		t.Errorf("Syscalls() = %d, want 3", got)
	}
}

func TestOutcomeString(t *testing.T) {
	got := []string{Resume.String(), Exited.String(), Halted.String(), Outcome(9).String()}
	want := []string{"resume", "exited", "halted", "Outcome(9)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("String (-want +got):\n%s", diff)
	}
}
