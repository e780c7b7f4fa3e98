package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"fit-telemetry/identity"
)

func main() {
	flags := pflag.NewFlagSet(filepath.Base(os.Args[0]), pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s /path/to/dir/containing/subdirs\n", filepath.Base(os.Args[0]))
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	parent := flags.Arg(0)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: path %q is not a directory\n", parent)
		os.Exit(2)
	}

	results, err := identity.CheckTree(parent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "device check failed: %v\n", err)
		os.Exit(1)
	}

	mismatched := 0
	for _, res := range results {
		fmt.Printf("Checking sub dir: %s (%d files, serial %d)\n", filepath.Base(res.Dir), res.Files, res.Serial)
		if res.Unreadable > 0 {
			fmt.Printf("  %d file(s) unreadable\n", res.Unreadable)
		}
		for _, m := range res.Mismatches {
			mismatched++
			fmt.Printf("  [MISMATCH] file %q has serial %d, expected %d\n", m.File, m.Serial, m.Expected)
		}
	}
	if mismatched == 0 {
		fmt.Println("All files share their directory's device serial.")
	}
}
