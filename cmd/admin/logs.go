package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"voxelprism.ai/internal/activity"
	persistlog "voxelprism.ai/internal/persistence/log"
)

func archiveCmd(args []string, out io.Writer) error {
	fset := flag.NewFlagSet("archive", flag.ContinueOnError)
	dataDir := fset.String("data", "./data", "runtime data directory")
	actor := fset.String("actor", "", "only activities caused by this actor name")
	if err := fset.Parse(args); err != nil {
		return err
	}
	n := 0
	err := eachLine(filepath.Join(*dataDir, "archive"), func(line []byte) error {
		var a activity.Activity
		if err := json.Unmarshal(line, &a); err != nil {
			return err
		}
		if *actor != "" && !strings.EqualFold(a.Cause.String(), *actor) {
			return nil
		}
		n++
		fmt.Fprintln(out, describe(a))
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d activities\n", n)
	return nil
}

func deadLetterCmd(args []string, out io.Writer) error {
	fset := flag.NewFlagSet("deadletter", flag.ContinueOnError)
	dataDir := fset.String("data", "./data", "runtime data directory")
	if err := fset.Parse(args); err != nil {
		return err
	}
	reasons := map[string]int{}
	n := 0
	err := eachLine(filepath.Join(*dataDir, "deadletter"), func(line []byte) error {
		var e persistlog.ParkedEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		n++
		reasons[e.Reason]++
		fmt.Fprintf(out, "%s [%s]\n", describe(e.Activity), e.Reason)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d parked activities\n", n)
	return nil
}

// eachLine feeds every line of every log in dir to fn, oldest file first.
// A missing dir is treated as empty.
func eachLine(dir string, fn func(line []byte) error) error {
	files, err := persistlog.Files(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := persistlog.ReadJSONLZstd(f, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
	}
	return nil
}
