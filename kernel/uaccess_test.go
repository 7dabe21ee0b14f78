package kernel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	userprog "github.com/wnxd/microdbg-userprog"
)

func TestValidator(t *testing.T) {
	v := Validator{Low: PAGE_SIZE, PhysBase: physBase}
	for _, tc := range []struct {
		addr uint64
		n    uint64
		want bool
	}{
		{0, 0, false},
		{PAGE_SIZE - 1, 0, false},
		{PAGE_SIZE, 0, true},
		{PAGE_SIZE - 1, 2, false},
		{physBase - 1, 0, true},
		{physBase - 1, 1, true},
		{physBase - 4, 4, true},
		{physBase - 4, 5, false},
		{physBase, 0, false},
		{physBase, 1, false},
		{0x08048000, 0x1000, true},
		{^uint64(0) - 1, 4, false},
		{PAGE_SIZE, ^uint64(0), false},
	} {
		got := v.IsSafeRange(tc.addr, tc.n)
		if got != tc.want {
			t.Errorf("IsSafeRange(%#x, %#x) = %v, want %v", tc.addr, tc.n, got, tc.want)
		}
		if tc.n == 0 && v.IsSafe(tc.addr) != tc.want {
			t.Errorf("IsSafe(%#x) = %v, want %v", tc.addr, !tc.want, tc.want)
		}
	}
}

func TestArgConversions(t *testing.T) {
	a := Arg(0xfffffffe)
	if a.Int() != -2 {
		t.Errorf("Int() = %d, want -2", a.Int())
	}
	if a.Uint() != 0xfffffffe {
		t.Errorf("Uint() = %#x", a.Uint())
	}
	if a.FD() != -2 {
		t.Errorf("FD() = %d, want -2", a.FD())
	}
	if a.Pointer() != 0xfffffffe || a.SizeT() != 0xfffffffe {
		t.Errorf("Pointer() = %#x, SizeT() = %#x", a.Pointer(), a.SizeT())
	}
}

func TestDecoder(t *testing.T) {
	v := Validator{Low: PAGE_SIZE, PhysBase: physBase}
	for _, word := range []int{4, 8} {
		f := newFakeFrame(word)
		f.pushAt(physBase-0x40, userprog.NR_max_of_four_int, 1, 2, 3, 0xfffffff9)
		d := NewDecoder(f, v, word)
		nr, err := d.Number()
		if err != nil || nr != userprog.NR_max_of_four_int {
			t.Fatalf("word %d: Number() = %v, %v", word, nr, err)
		}
		args, err := d.Args(4)
		if err != nil {
			t.Fatalf("word %d: Args: %v", word, err)
		}
		if diff := cmp.Diff([maxArgs]Arg{1, 2, 3, 0xfffffff9}, args); diff != "" {
			t.Errorf("word %d: Args (-want +got):\n%s", word, diff)
		}
		// Fewer words leave the rest zero.
		args, _ = d.Args(1)
		if diff := cmp.Diff([maxArgs]Arg{1}, args); diff != "" {
			t.Errorf("word %d: Args(1) (-want +got):\n%s", word, diff)
		}
	}
}

func TestDecoderFault(t *testing.T) {
	v := Validator{Low: PAGE_SIZE, PhysBase: physBase}
	f := newFakeFrame(4)
	f.pushAt(physBase, userprog.NR_write, 1)
	d := NewDecoder(f, v, 4)
	if _, err := d.Number(); err != nil {
		t.Fatalf("Number: %v", err)
	}
	if _, err := d.Args(1); err != nil {
		t.Fatalf("Args(1): %v", err)
	}
	if _, err := d.Args(3); !errors.Is(err, ErrFault) {
		t.Errorf("Args(3) = %v, want ErrFault", err)
	}
}

func newTestContext(e *testEnv) *Context {
	return &Context{Context: context.Background(), k: e.k, proc: e.p, frame: e.frame}
}

func TestCopyInString(t *testing.T) {
	e := newTestEnv(t)
	ctx := newTestContext(e)

	s, err := ctx.copyInString(e.str(dataBase, "hello world"))
	if err != nil || s != "hello world" {
		t.Errorf("copyInString = %q, %v", s, err)
	}
	s, err = ctx.copyInString(e.str(dataBase, ""))
	if err != nil || s != "" {
		t.Errorf("copyInString empty = %q, %v", s, err)
	}
	if _, err := ctx.copyInString(0); !errors.Is(err, ErrNullPath) {
		t.Errorf("copyInString(0) = %v, want ErrNullPath", err)
	}
	if _, err := ctx.copyInString(physBase); !errors.Is(err, ErrFault) {
		t.Errorf("copyInString(physBase) = %v, want ErrFault", err)
	}

	long := strings.Repeat("x", e.k.cfg.MaxPath)
	if _, err := ctx.copyInString(e.str(dataBase, long)); !errors.Is(err, ErrFault) {
		t.Errorf("copyInString(long) = %v, want ErrFault", err)
	}
}

func TestCopyInOut(t *testing.T) {
	e := newTestEnv(t)
	ctx := newTestContext(e)

	data := []byte(strings.Repeat("abcdefgh", PAGE_SIZE/4))
	if err := ctx.copyOut(dataBase+3, data); err != nil {
		t.Fatalf("copyOut: %v", err)
	}
	got, err := ctx.copyIn(dataBase+3, uint64(len(data)))
	if err != nil {
		t.Fatalf("copyIn: %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("copyIn (-want +got):\n%s", diff)
	}

	if err := ctx.copyOut(physBase-1, []byte("ab")); !errors.Is(err, ErrFault) {
		t.Errorf("copyOut across boundary = %v, want ErrFault", err)
	}
	if _, err := ctx.copyIn(PAGE_SIZE, 16); !errors.Is(err, ErrFault) {
		t.Errorf("copyIn unmapped = %v, want ErrFault", err)
	}
	if err := ctx.copyOut(physBase, nil); !errors.Is(err, ErrFault) {
		t.Errorf("copyOut empty at boundary = %v, want ErrFault", err)
	}
}
