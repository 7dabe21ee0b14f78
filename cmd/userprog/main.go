// Binary userprog runs user programs on the system call gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Run), "")
	subcommands.Register(new(Syscalls), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// Fatalf prints to stderr and exits.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "userprog: "+format+"\n", args...)
	os.Exit(128)
}
