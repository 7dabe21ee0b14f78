// Package console is the keyboard and display device of the machine.
package console

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
)

type Console struct {
	inMu sync.Mutex
	in   io.ByteReader

	outMu sync.Mutex
	out   io.Writer

	read    atomic.Uint64
	written atomic.Uint64
}

// New returns a console reading keys from in and displaying on out.
func New(in io.Reader, out io.Writer) *Console {
	br, ok := in.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &Console{in: br, out: out}
}

// ReadChar returns the next key, or 0 once input is exhausted.
func (c *Console) ReadChar() byte {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	b, err := c.in.ReadByte()
	if err != nil {
		return 0
	}
	c.read.Add(1)
	return b
}

// WriteBuffer displays p in one piece.
func (c *Console) WriteBuffer(p []byte) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	n, _ := c.out.Write(p)
	c.written.Add(uint64(n))
}

// Read returns the number of keys read so far.
func (c *Console) Read() uint64 {
	return c.read.Load()
}

// Written returns the number of characters displayed so far.
func (c *Console) Written() uint64 {
	return c.written.Load()
}
