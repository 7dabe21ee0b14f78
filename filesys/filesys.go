// Package filesys is a flat, in-memory file system with fixed size files,
// the shape the file system calls expect from their collaborator.
package filesys

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/btree"
	userprog "github.com/wnxd/microdbg-userprog"
	"github.com/wnxd/microdbg/filesystem"
)

// NameMax is the longest file name accepted.
const NameMax = 14

var (
	ErrNotExist = errors.New("filesys: file does not exist")
	ErrClosed   = errors.New("filesys: file already closed")
)

type inode struct {
	mu        sync.Mutex
	data      []byte
	denyWrite int
}

type dirent struct {
	name  string
	inode *inode
}

func direntLess(a, b dirent) bool {
	return a.name < b.name
}

// FS is the root directory and the files in it.
type FS struct {
	mu  sync.Mutex
	dir *btree.BTreeG[dirent]
}

func New() *FS {
	return &FS{dir: btree.NewG(4, direntLess)}
}

func validName(name string) bool {
	return name != "" && len(name) <= NameMax && !strings.ContainsRune(name, '/')
}

// Create adds a zero filled file of size bytes. It fails if the name is
// taken or invalid.
func (fs *FS) Create(name string, size uint64) bool {
	if !validName(name) {
		return false
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.dir.Has(dirent{name: name}) {
		return false
	}
	fs.dir.ReplaceOrInsert(dirent{name: name, inode: &inode{data: make([]byte, size)}})
	return true
}

// Remove unlinks name. Handles already open keep working until closed.
func (fs *FS) Remove(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.dir.Delete(dirent{name: name})
	return ok
}

func (fs *FS) Open(name string) (userprog.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.dir.Get(dirent{name: name})
	if !ok {
		return nil, fmt.Errorf("open %q: %w", name, ErrNotExist)
	}
	return &File{ino: d.inode}, nil
}

// Entry describes one file of the directory.
type Entry struct {
	Name string
	Size int
}

// List returns the directory in name order.
func (fs *FS) List() []Entry {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var entries []Entry
	fs.dir.Ascend(func(d dirent) bool {
		d.inode.mu.Lock()
		entries = append(entries, Entry{Name: d.name, Size: len(d.inode.data)})
		d.inode.mu.Unlock()
		return true
	})
	return entries
}

// WriteFile creates name holding data, replacing any file of that name.
func (fs *FS) WriteFile(name string, data []byte) error {
	if !validName(name) {
		return fmt.Errorf("write %q: invalid name", name)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.dir.ReplaceOrInsert(dirent{name: name, inode: &inode{data: append([]byte(nil), data...)}})
	return nil
}

func (fs *FS) ReadFile(name string) ([]byte, error) {
	fs.mu.Lock()
	d, ok := fs.dir.Get(dirent{name: name})
	fs.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("read %q: %w", name, ErrNotExist)
	}
	d.inode.mu.Lock()
	defer d.inode.mu.Unlock()
	return append([]byte(nil), d.inode.data...), nil
}

// Load copies every regular file of the host directory dir into fs.
func (fs *FS) Load(dir string) error {
	return fs.LoadFS(filesystem.SysDirFS(dir))
}

// LoadFS copies every regular file at the top of dir into fs.
func (fs *FS) LoadFS(dir filesystem.DirFS) error {
	entries, err := dir.ReadDir("")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := readFile(dir, e.Name())
		if err != nil {
			return err
		}
		if err := fs.WriteFile(e.Name(), data); err != nil {
			return err
		}
	}
	return nil
}

func readFile(dir filesystem.FS, name string) ([]byte, error) {
	file, err := dir.OpenFile(name, filesystem.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r, ok := file.(filesystem.ReadFile)
	if !ok {
		return nil, fmt.Errorf("load %q: not readable", name)
	}
	return io.ReadAll(r)
}

// File is an open handle with its own position.
type File struct {
	ino    *inode
	mu     sync.Mutex
	pos    uint64
	denied bool
	closed bool
}

func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	if f.pos >= uint64(len(f.ino.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.ino.data[f.pos:])
	f.pos += uint64(n)
	return n, nil
}

// Write overwrites bytes at the position. Files never grow, and nothing is
// written while any handle denies writes.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	if f.ino.denyWrite > 0 || f.pos >= uint64(len(f.ino.data)) {
		return 0, nil
	}
	n := copy(f.ino.data[f.pos:], p)
	f.pos += uint64(n)
	return n, nil
}

func (f *File) Seek(pos uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
}

func (f *File) Tell() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *File) Length() uint64 {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	return uint64(len(f.ino.data))
}

func (f *File) DenyWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return
	}
	f.denied = true
	f.ino.mu.Lock()
	f.ino.denyWrite++
	f.ino.mu.Unlock()
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	if f.denied {
		f.ino.mu.Lock()
		f.ino.denyWrite--
		f.ino.mu.Unlock()
		f.denied = false
	}
	return nil
}
