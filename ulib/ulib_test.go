package ulib

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	userprog "github.com/wnxd/microdbg-userprog"
	"github.com/wnxd/microdbg-userprog/filesys"
	"github.com/wnxd/microdbg-userprog/kernel"
	"github.com/wnxd/microdbg-userprog/usermem"
)

type nopPower struct{}

func (nopPower) PowerOff() {}

type bufConsole struct {
	bytes.Buffer
}

func (c *bufConsole) ReadChar() byte       { return 0 }
func (c *bufConsole) WriteBuffer(p []byte) { c.Write(p) }

type noProcs struct{}

func (noProcs) Spawn(*kernel.Context, string) (kernel.Pid, error) {
	return -1, kernel.ErrNoProcess
}

func (noProcs) Wait(*kernel.Context, kernel.Pid) (int32, error) {
	return -1, errors.New("no children")
}

func (noProcs) Exited(*kernel.Process) {}

func newImage(t *testing.T, wordSize int) (*Image, *bufConsole) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := kernel.DefaultConfig()
	cfg.WordSize = wordSize
	cons := &bufConsole{}
	k, err := kernel.NewKernel(cfg, kernel.Devices{
		FS:      filesys.New(),
		Console: cons,
		Power:   nopPower{},
		Procs:   noProcs{},
	}, log)
	if err != nil {
		t.Fatal(err)
	}
	p := k.NewProcess(1, "t")
	return NewImage(k, p, usermem.New(cfg.PhysBase)), cons
}

func TestThreadStacks(t *testing.T) {
	img, _ := newImage(t, 4)
	a, err := img.NewThread()
	if err != nil {
		t.Fatal(err)
	}
	b, err := img.NewThread()
	if err != nil {
		t.Fatal(err)
	}
	as := img.AddressSpace()
	if a.stackTop != as.PhysBase() || b.stackTop != as.PhysBase()-stackSpan {
		t.Errorf("stack tops %#x %#x", a.stackTop, b.stackTop)
	}
	if !as.Mapped(a.stackTop-1) || !as.Mapped(b.stackTop-StackSize) {
		t.Error("stack not mapped")
	}
	// The gap between stacks stays unmapped.
	if as.Mapped(a.stackTop - StackSize - 1) {
		t.Error("guard gap mapped")
	}
}

func TestSyscall(t *testing.T) {
	for _, word := range []int{4, 8} {
		img, cons := newImage(t, word)
		th, _ := img.NewThread()
		var r [3]int
		<-th.Start(func(th *Thread) {
			r[0] = th.Fibonacci(7)
			r[1] = th.MaxOfFourInt(-8, -3, -5, -9)
			r[2] = th.Write(Stdout, []byte("ok"))
			th.Exit(0)
			r[0] = 0
		})
		if r != [3]int{13, -3, 2} {
			t.Errorf("word %d: results %v", word, r)
		}
		if got, want := cons.String(), "okt: exit(0)\n"; got != want {
			t.Errorf("word %d: console %q, want %q", word, got, want)
		}
	}
}

func TestUnknownSyscall(t *testing.T) {
	img, _ := newImage(t, 4)
	th, _ := img.NewThread()
	var r uint64
	<-th.Start(func(th *Thread) {
		r = th.Syscall(userprog.NR(77), 1)
	})
	if th.Int(r) != -1 {
		t.Errorf("result %#x, want -1", r)
	}
	if img.Process().Exited() {
		t.Error("process exited")
	}
}

func TestArenaReset(t *testing.T) {
	img, _ := newImage(t, 4)
	th, _ := img.NewThread()
	var first, second uint64
	<-th.Start(func(th *Thread) {
		first = th.CString("file")
		th.Create("file", 1)
		second = th.Alloc(1)
	})
	if first != ArenaBase || second != ArenaBase {
		t.Errorf("arena allocations at %#x and %#x, want %#x", first, second, ArenaBase)
	}
}

func TestGo(t *testing.T) {
	img, cons := newImage(t, 4)
	th, _ := img.NewThread()
	<-th.Start(func(th *Thread) {
		done, err := th.Go(func(th *Thread) {
			th.Puts("child\n")
		})
		if err != nil {
			return
		}
		<-done
		th.Puts("parent\n")
	})
	if got, want := cons.String(), "child\nparent\n"; got != want {
		t.Errorf("console %q, want %q", got, want)
	}
}
