package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/freeeve/regionstore/internal/region"
)

func main() {
	var (
		showSlots  = pflag.Bool("slots", false, "print every occupied slot")
		headerOnly = pflag.Bool("header-only", false, "read only the header, skip payload validation")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: regioninspect [flags] r.X.Z.linear...\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	failed := 0
	for _, path := range pflag.Args() {
		if err := inspect(path, *showSlots, *headerOnly); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func inspect(path string, showSlots, headerOnly bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var header *region.Header
	var slots []region.SlotInfo
	if headerOnly {
		header, err = region.ReadHeader(path)
	} else {
		header, slots, err = region.Verify(path)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", filepath.Base(path))
	fmt.Printf("  size:        %s\n", humanize.Bytes(uint64(info.Size())))
	fmt.Printf("  version:     %d\n", header.Version)
	fmt.Printf("  written:     %s\n", time.Unix(header.Timestamp, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  level:       %d\n", header.Level)
	fmt.Printf("  chunks:      %d\n", header.ChunkCount)
	fmt.Printf("  payload:     %s (hash %016x)\n", humanize.Bytes(uint64(header.PayloadLen)), header.Hash)

	if headerOnly {
		return nil
	}

	var raw uint64
	for _, s := range slots {
		raw += uint64(s.Size)
	}
	fmt.Printf("  raw:         %s", humanize.Bytes(raw))
	if raw > 0 {
		fmt.Printf(" (%.1fx)", float64(raw)/float64(header.PayloadLen))
	}
	fmt.Println()

	if showSlots {
		for _, s := range slots {
			fmt.Printf("    slot %4d  x=%2d z=%2d  %s\n", s.Index, s.X, s.Z, humanize.Bytes(uint64(s.Size)))
		}
	}
	return nil
}
