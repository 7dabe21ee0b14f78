package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/wnxd/microdbg-userprog/kernel"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output string
}

// SyscallDoc describes one entry of the system call table.
type SyscallDoc struct {
	Name string `json:"name"`
	NR   uint32 `json:"nr"`
	Args int    `json:"args"`
}

type outputFunc func(io.Writer, []SyscallDoc) error

var outputMap = map[string]outputFunc{
	"table": outputTable,
	"json":  outputJSON,
	"csv":   outputCSV,
}

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print the system call table."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [-o table|csv|json] - Print the system call table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, csv, json).")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.output]
	if !ok {
		Fatalf("unsupported output format %q", s.output)
	}
	if err := out(os.Stdout, syscallDocs()); err != nil {
		Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func syscallDocs() []SyscallDoc {
	var sys kernel.Syscall
	var docs []SyscallDoc
	for nr, call := range sys.Table() {
		docs = append(docs, SyscallDoc{Name: call.Name, NR: uint32(nr), Args: call.Args})
	}
	slices.SortFunc(docs, func(a, b SyscallDoc) int {
		return int(a.NR) - int(b.NR)
	})
	return docs
}

func outputTable(w io.Writer, docs []SyscallDoc) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NR\tNAME\tARGS")
	for _, d := range docs {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", d.NR, d.Name, d.Args)
	}
	return tw.Flush()
}

func outputJSON(w io.Writer, docs []SyscallDoc) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(docs)
}

func outputCSV(w io.Writer, docs []SyscallDoc) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write([]string{"nr", "name", "args"}); err != nil {
		return err
	}
	for _, d := range docs {
		if err := csvWriter.Write([]string{strconv.Itoa(int(d.NR)), d.Name, strconv.Itoa(d.Args)}); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
