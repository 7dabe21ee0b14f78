package kernel

import (
	"errors"
	"fmt"
	"io"

	userprog "github.com/wnxd/microdbg-userprog"
)

type fcntl struct {
}

// file returns the open file bound to fd. An unbound descriptor is fatal
// to the caller.
func (f *fcntl) file(ctx *Context, fd FD) (userprog.File, error) {
	file, ok := ctx.proc.files.Get(fd)
	if !ok {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrBadFD)
	}
	return file, nil
}

func (f *fcntl) create(ctx *Context, filename emuptr, size uint64) (bool, error) {
	path, err := ctx.copyInString(filename)
	if err != nil {
		return false, err
	}
	return ctx.k.dev.FS.Create(path, size), nil
}

func (f *fcntl) remove(ctx *Context, filename emuptr) (bool, error) {
	path, err := ctx.copyInString(filename)
	if err != nil {
		return false, err
	}
	return ctx.k.dev.FS.Remove(path), nil
}

func (f *fcntl) open(ctx *Context, filename emuptr) (FD, error) {
	path, err := ctx.copyInString(filename)
	if err != nil {
		return -1, err
	}
	access := ctx.proc.access
	if err := access.BeginRead(ctx); err != nil {
		return -1, err
	}
	defer access.EndRead()
	file, err := ctx.k.dev.FS.Open(path)
	if err != nil {
		ctx.proc.log.WithError(err).Debugf("open %q", path)
		return -1, nil
	}
	fd, err := ctx.proc.files.Allocate(file, ctx.proc.name, path)
	if err != nil {
		file.Close()
		ctx.proc.log.WithError(err).Debugf("open %q", path)
		return -1, nil
	}
	return fd, nil
}

func (f *fcntl) filesize(ctx *Context, fd FD) (uint64, error) {
	file, err := f.file(ctx, fd)
	if err != nil {
		return 0, err
	}
	return file.Length(), nil
}

func (f *fcntl) read(ctx *Context, fd FD, buf emuptr, count uint64) (int64, error) {
	if !ctx.k.validator.IsSafeRange(buf, count) {
		return -1, fmt.Errorf("read buffer %#x+%d: %w", buf, count, ErrFault)
	}
	access := ctx.proc.access
	if err := access.BeginRead(ctx); err != nil {
		return -1, err
	}
	defer access.EndRead()
	switch fd {
	case STDIN_FILENO:
		return f.readConsole(ctx, buf, count)
	case STDOUT_FILENO, STDERR_FILENO:
		return -1, nil
	}
	file, err := f.file(ctx, fd)
	if err != nil {
		return -1, err
	}
	chunk := make([]byte, min(count, PAGE_SIZE))
	var total int64
	for uint64(total) < count {
		m := min(count-uint64(total), PAGE_SIZE)
		n, err := file.Read(chunk[:m])
		if n > 0 {
			if err := ctx.copyOut(buf+uint64(total), chunk[:n]); err != nil {
				return -1, err
			}
			total += int64(n)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			ctx.proc.log.WithError(err).Debugf("read fd %d", fd)
			return -1, nil
		}
		if uint64(n) < m {
			break
		}
	}
	return total, nil
}

// readConsole reads up to count keys, stopping after a zero byte. Anything
// short of count is a failure, though the keys read stay in the buffer.
func (f *fcntl) readConsole(ctx *Context, buf emuptr, count uint64) (int64, error) {
	var (
		keys []byte
		i    uint64
	)
	for i = 0; i < count; i++ {
		c := ctx.k.dev.Console.ReadChar()
		keys = append(keys, c)
		if c == 0 {
			break
		}
	}
	if err := ctx.copyOut(buf, keys); err != nil {
		return -1, err
	}
	if i != count {
		return -1, nil
	}
	return int64(i), nil
}

func (f *fcntl) write(ctx *Context, fd FD, buf emuptr, count uint64) (int64, error) {
	if !ctx.k.validator.IsSafeRange(buf, count) {
		return -1, fmt.Errorf("write buffer %#x+%d: %w", buf, count, ErrFault)
	}
	access := ctx.proc.access
	if err := access.BeginWrite(ctx); err != nil {
		return -1, err
	}
	defer access.EndWrite()
	switch fd {
	case STDOUT_FILENO:
		data, err := ctx.copyIn(buf, count)
		if err != nil {
			return -1, err
		}
		ctx.k.dev.Console.WriteBuffer(data)
		return int64(count), nil
	case STDIN_FILENO, STDERR_FILENO:
		// Accepted and discarded.
		return int64(count), nil
	}
	file, err := f.file(ctx, fd)
	if err != nil {
		return -1, err
	}
	var total int64
	for uint64(total) < count {
		m := min(count-uint64(total), PAGE_SIZE)
		data, err := ctx.copyIn(buf+uint64(total), m)
		if err != nil {
			return -1, err
		}
		n, err := file.Write(data)
		total += int64(n)
		if err != nil || uint64(n) < m {
			break
		}
	}
	return total, nil
}

func (f *fcntl) seek(ctx *Context, fd FD, position uint64) error {
	file, err := f.file(ctx, fd)
	if err != nil {
		return err
	}
	file.Seek(position)
	return nil
}

func (f *fcntl) tell(ctx *Context, fd FD) (uint64, error) {
	file, err := f.file(ctx, fd)
	if err != nil {
		return 0, err
	}
	return file.Tell(), nil
}

func (f *fcntl) close(ctx *Context, fd FD) error {
	if err := ctx.proc.files.Release(fd); err != nil {
		if errors.Is(err, ErrBadFD) {
			return err
		}
		ctx.proc.log.WithError(err).Debugf("close fd %d", fd)
	}
	return nil
}
