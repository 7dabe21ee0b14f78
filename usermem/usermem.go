// Package usermem provides a sparse, page granular user address space for
// running user programs against the syscall gateway without an emulator.
package usermem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
)

const PageSize = 4096

// ErrFault reports an access to an address that is not mapped.
var ErrFault = errors.New("usermem: fault")

type page struct {
	addr uint64
	data [PageSize]byte
}

func pageLess(a, b *page) bool {
	return a.addr < b.addr
}

// PageRoundDown returns addr rounded down to a page boundary.
func PageRoundDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// PageRoundUp returns addr rounded up to a page boundary.
func PageRoundUp(addr uint64) uint64 {
	return PageRoundDown(addr + PageSize - 1)
}

// AddressSpace is the user half of a process's memory: every mapped page
// lies below PhysBase.
type AddressSpace struct {
	physBase uint64

	mu    sync.RWMutex
	pages *btree.BTreeG[*page]
}

func New(physBase uint64) *AddressSpace {
	return &AddressSpace{
		physBase: physBase,
		pages:    btree.NewG(8, pageLess),
	}
}

func (as *AddressSpace) PhysBase() uint64 {
	return as.physBase
}

// Map maps zeroed pages covering [addr, addr+length). Pages already mapped
// keep their contents.
func (as *AddressSpace) Map(addr, length uint64) error {
	start, end := PageRoundDown(addr), PageRoundUp(addr+length)
	if end < start || end > as.physBase {
		return fmt.Errorf("map %#x+%#x: outside user space", addr, length)
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	for a := start; a < end; a += PageSize {
		if _, ok := as.pages.Get(&page{addr: a}); !ok {
			as.pages.ReplaceOrInsert(&page{addr: a})
		}
	}
	return nil
}

// Unmap drops the pages covering [addr, addr+length).
func (as *AddressSpace) Unmap(addr, length uint64) {
	start, end := PageRoundDown(addr), PageRoundUp(addr+length)
	as.mu.Lock()
	defer as.mu.Unlock()
	var drop []*page
	as.pages.AscendRange(&page{addr: start}, &page{addr: end}, func(p *page) bool {
		drop = append(drop, p)
		return true
	})
	for _, p := range drop {
		as.pages.Delete(p)
	}
}

// Mapped reports whether addr lies in a mapped page.
func (as *AddressSpace) Mapped(addr uint64) bool {
	as.mu.RLock()
	defer as.mu.RUnlock()
	_, ok := as.pages.Get(&page{addr: PageRoundDown(addr)})
	return ok
}

// Pages returns the number of mapped pages.
func (as *AddressSpace) Pages() int {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.pages.Len()
}

// Read copies len(p) bytes at addr into p. Nothing is copied if any byte
// is unmapped.
func (as *AddressSpace) Read(addr uint64, p []byte) error {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.walk(addr, len(p), func(pg *page, off uint64, i, n int) {
		copy(p[i:i+n], pg.data[off:])
	})
}

// Write copies p to addr. Nothing is written if any byte is unmapped.
func (as *AddressSpace) Write(addr uint64, p []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.walk(addr, len(p), func(pg *page, off uint64, i, n int) {
		copy(pg.data[off:], p[i:i+n])
	})
}

// walk resolves every page of [addr, addr+n) before calling fn on each
// piece.
func (as *AddressSpace) walk(addr uint64, n int, fn func(pg *page, off uint64, i, n int)) error {
	if addr+uint64(n) < addr || addr+uint64(n) > as.physBase {
		return fmt.Errorf("%#x+%d: %w", addr, n, ErrFault)
	}
	type piece struct {
		pg   *page
		off  uint64
		i, n int
	}
	var pieces []piece
	for i := 0; i < n; {
		a := addr + uint64(i)
		pg, ok := as.pages.Get(&page{addr: PageRoundDown(a)})
		if !ok {
			return fmt.Errorf("%#x: %w", a, ErrFault)
		}
		off := a - pg.addr
		m := min(n-i, int(PageSize-off))
		pieces = append(pieces, piece{pg, off, i, m})
		i += m
	}
	for _, pc := range pieces {
		fn(pc.pg, pc.off, pc.i, pc.n)
	}
	return nil
}
