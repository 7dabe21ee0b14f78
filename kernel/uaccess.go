package kernel

import (
	"bytes"
	"encoding/binary"
	"fmt"

	userprog "github.com/wnxd/microdbg-userprog"
)

// Validator decides whether a user address may be dereferenced. Addresses
// below Low (the null page) and at or above PhysBase (kernel space) are
// unsafe.
type Validator struct {
	Low      uint64
	PhysBase uint64
}

func (v Validator) IsSafe(addr emuptr) bool {
	return addr >= v.Low && addr < v.PhysBase
}

// IsSafeRange reports whether every byte of [addr, addr+n) is safe.
func (v Validator) IsSafeRange(addr emuptr, n uint64) bool {
	if n == 0 {
		return v.IsSafe(addr)
	}
	end := addr + n
	if end < addr {
		return false
	}
	return v.IsSafe(addr) && end <= v.PhysBase
}

// Arg is one argument word decoded from the user stack.
type Arg uint64

func (a Arg) Int() int32 {
	return int32(a)
}

func (a Arg) Uint() uint32 {
	return uint32(a)
}

func (a Arg) Pointer() emuptr {
	return emuptr(a)
}

func (a Arg) SizeT() uint64 {
	return uint64(a)
}

func (a Arg) FD() FD {
	return FD(a.Int())
}

const maxArgs = 4

// Decoder projects the syscall number and its arguments out of a trapped
// user stack. Every slot is validated before it is read.
type Decoder struct {
	frame    userprog.Frame
	v        Validator
	wordSize int
}

func NewDecoder(frame userprog.Frame, v Validator, wordSize int) Decoder {
	return Decoder{frame: frame, v: v, wordSize: wordSize}
}

func (d Decoder) word(addr emuptr) (uint64, error) {
	if !d.v.IsSafeRange(addr, uint64(d.wordSize)) {
		return 0, fmt.Errorf("stack slot %#x: %w", addr, ErrFault)
	}
	var buf [8]byte
	if err := d.frame.MemRead(addr, buf[:d.wordSize]); err != nil {
		return 0, fmt.Errorf("stack slot %#x: %w", addr, ErrFault)
	}
	if d.wordSize == 4 {
		return uint64(binary.LittleEndian.Uint32(buf[:4])), nil
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Number reads the syscall number at the stack pointer.
func (d Decoder) Number() (userprog.NR, error) {
	w, err := d.word(d.frame.StackPointer())
	if err != nil {
		return 0, err
	}
	return userprog.NR(w), nil
}

// Args reads n argument words following the syscall number.
func (d Decoder) Args(n int) ([maxArgs]Arg, error) {
	var args [maxArgs]Arg
	sp := d.frame.StackPointer()
	for i := 0; i < n; i++ {
		w, err := d.word(sp + uint64(i+1)*uint64(d.wordSize))
		if err != nil {
			return args, err
		}
		args[i] = Arg(w)
	}
	return args, nil
}

// copyIn reads n bytes of user memory at addr in page sized chunks, so a
// bogus length faults before it is allocated.
func (ctx *Context) copyIn(addr emuptr, n uint64) ([]byte, error) {
	if !ctx.k.validator.IsSafeRange(addr, n) {
		return nil, fmt.Errorf("buffer %#x+%d: %w", addr, n, ErrFault)
	}
	var buf bytes.Buffer
	chunk := make([]byte, PAGE_SIZE)
	for off := uint64(0); off < n; {
		m := min(n-off, PAGE_SIZE)
		if err := ctx.frame.MemRead(addr+off, chunk[:m]); err != nil {
			return nil, fmt.Errorf("buffer %#x+%d: %w", addr, n, ErrFault)
		}
		buf.Write(chunk[:m])
		off += m
	}
	return buf.Bytes(), nil
}

func (ctx *Context) copyOut(addr emuptr, p []byte) error {
	if !ctx.k.validator.IsSafeRange(addr, uint64(len(p))) {
		return fmt.Errorf("buffer %#x+%d: %w", addr, len(p), ErrFault)
	}
	if len(p) == 0 {
		return nil
	}
	if err := ctx.frame.MemWrite(addr, p); err != nil {
		return fmt.Errorf("buffer %#x+%d: %w", addr, len(p), ErrFault)
	}
	return nil
}

// copyInString reads a NUL terminated string, validating each byte before
// it is read.
func (ctx *Context) copyInString(addr emuptr) (string, error) {
	if addr == emunullptr {
		return "", ErrNullPath
	}
	var (
		s []byte
		c [1]byte
	)
	for i := 0; i < ctx.k.cfg.MaxPath; i++ {
		p := addr + uint64(i)
		if !ctx.k.validator.IsSafe(p) {
			return "", fmt.Errorf("string %#x: %w", addr, ErrFault)
		}
		if err := ctx.frame.MemRead(p, c[:]); err != nil {
			return "", fmt.Errorf("string %#x: %w", addr, ErrFault)
		}
		if c[0] == 0 {
			return string(s), nil
		}
		s = append(s, c[0])
	}
	return "", fmt.Errorf("string %#x longer than %d: %w", addr, ctx.k.cfg.MaxPath, ErrFault)
}
