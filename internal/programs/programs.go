// Package programs holds the user programs the userprog command can exec.
package programs

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/wnxd/microdbg-userprog/filesys"
	"github.com/wnxd/microdbg-userprog/proc"
	"github.com/wnxd/microdbg-userprog/ulib"
)

// Registry returns every sample program by name.
func Registry() proc.Registry {
	return proc.Registry{
		"echo":       Echo,
		"cat":        Cat,
		"additional": Additional,
		"halt":       Halt,
		"rox":        Rox,
		"multi-read": MultiRead,
		"spawn":      Spawn,
	}
}

// Install writes an image file for every program of r into fs, so a
// program can open its own executable.
func Install(fs *filesys.FS, r proc.Registry) error {
	for name := range r {
		if err := fs.WriteFile(name, []byte("#!userprog "+name+"\n")); err != nil {
			return err
		}
	}
	return nil
}

// atoi converts like the C library: leading digits only, 0 if none.
func atoi(s string) int {
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && s[end] == '-') {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

func Echo(t *ulib.Thread, args []string) int {
	t.Puts(strings.Join(args, " ") + "\n")
	return 0
}

// Cat copies each named file to the console.
func Cat(t *ulib.Thread, args []string) int {
	status := 0
	buf := make([]byte, 1024)
	for _, name := range args[1:] {
		fd := t.Open(name)
		if fd < 0 {
			t.Puts(fmt.Sprintf("%s: open failed\n", name))
			status = 1
			continue
		}
		for {
			n := t.Read(fd, buf)
			if n <= 0 {
				break
			}
			t.Write(ulib.Stdout, buf[:n])
		}
		t.Close(fd)
	}
	return status
}

// Additional prints fibonacci of its first argument and the largest of its
// four arguments.
func Additional(t *ulib.Thread, args []string) int {
	if len(args) != 5 {
		t.Puts("usage: additional a b c d\n")
		return 1
	}
	var n [4]int
	for i := range n {
		n[i] = atoi(args[i+1])
	}
	t.Puts(fmt.Sprintf("%d %d\n", t.Fibonacci(n[0]), t.MaxOfFourInt(n[0], n[1], n[2], n[3])))
	return 0
}

func Halt(t *ulib.Thread, args []string) int {
	t.Halt()
	return 0
}

// Rox opens its own executable and checks that writing to it is denied.
func Rox(t *ulib.Thread, args []string) int {
	fd := t.Open(args[0])
	if fd < 0 {
		t.Puts(fmt.Sprintf("%s: open failed\n", args[0]))
		return 1
	}
	buf := make([]byte, t.Filesize(fd))
	t.Read(fd, buf)
	t.Seek(fd, 0)
	if n := t.Write(fd, buf); n != 0 {
		t.Puts(fmt.Sprintf("%s: write returned %d\n", args[0], n))
		return 1
	}
	t.Close(fd)
	return 0
}

// MultiRead reads a file from several threads at once and checks they all
// see the same contents.
func MultiRead(t *ulib.Thread, args []string) int {
	if len(args) < 2 {
		t.Puts("usage: multi-read file [threads]\n")
		return 1
	}
	threads := 4
	if len(args) > 2 {
		threads = max(atoi(args[2]), 1)
	}
	readAll := func(t *ulib.Thread) []byte {
		fd := t.Open(args[1])
		if fd < 0 {
			return nil
		}
		defer t.Close(fd)
		buf := make([]byte, t.Filesize(fd))
		if t.Read(fd, buf) != len(buf) {
			return nil
		}
		return buf
	}

	results := make([][]byte, threads)
	dones := make([]<-chan struct{}, 0, threads)
	for i := range results {
		done, err := t.Go(func(t *ulib.Thread) {
			results[i] = readAll(t)
		})
		if err != nil {
			t.Puts(fmt.Sprintf("multi-read: %v\n", err))
			return 1
		}
		dones = append(dones, done)
	}
	want := readAll(t)
	for _, done := range dones {
		<-done
	}
	if want == nil {
		t.Puts(fmt.Sprintf("%s: read failed\n", args[1]))
		return 1
	}
	for i, got := range results {
		if !bytes.Equal(got, want) {
			t.Puts(fmt.Sprintf("multi-read: thread %d read differs\n", i))
			return 1
		}
	}
	return 0
}

// Spawn execs the rest of its command line and exits with the child's
// status.
func Spawn(t *ulib.Thread, args []string) int {
	pid := t.Exec(strings.Join(args[1:], " "))
	if pid < 0 {
		return -1
	}
	return t.Wait(pid)
}
