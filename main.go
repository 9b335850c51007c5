// Command elf2vita analyzes a statically linked ARM ELF executable built
// with relocations retained and prints the module-conversion view of it:
// import stubs, decoded relocation tables, and the segment map. The
// rewritten module image itself is produced by a downstream encoder.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"moria.us/elf2vita/velf"
)

func mainE() error {
	var quiet bool
	flag.BoolVar(&quiet, "quiet", false, "Do not print the listing")
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		return fmt.Errorf("got %d arguments, expected 1", len(args))
	}
	b, err := velf.Load(args[0], os.Stderr)
	if err != nil {
		return err
	}
	defer b.Close()
	if quiet {
		return nil
	}
	w := bufio.NewWriter(os.Stdout)
	b.Dump(w)
	return w.Flush()
}

func main() {
	if err := mainE(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
