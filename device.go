package userprog

import "io"

// Console is the keyboard and display device.
type Console interface {
	// ReadChar blocks until a key is available. It returns 0 once input is
	// exhausted.
	ReadChar() byte
	// WriteBuffer writes p without interleaving with other writers.
	WriteBuffer(p []byte)
}

// Power turns the machine off.
type Power interface {
	PowerOff()
}

// FileSystem is the flat namespace the file syscalls operate on.
type FileSystem interface {
	Create(path string, size uint64) bool
	Remove(path string) bool
	Open(path string) (File, error)
}

// File is an open file handle. Reads and writes start at the handle's
// position and advance it.
type File interface {
	io.Reader
	io.Writer
	io.Closer
	Seek(pos uint64)
	Tell() uint64
	Length() uint64
	// DenyWrite blocks writes through every handle of the underlying file
	// until this handle is closed.
	DenyWrite()
}
