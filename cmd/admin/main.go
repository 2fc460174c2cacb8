package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/world"
)

const usage = `usage: admin <command> [flags]

commands:
  lookup      query the sqlite activity index
  scan        list activities from the pebble store, oldest first
  archive     dump the compressed activity archive
  deadletter  dump parked batches
  stats       print a running server's /v1/stats
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "lookup":
		err = lookupCmd(args, os.Stdout)
	case "scan":
		err = scanCmd(args, os.Stdout)
	case "archive":
		err = archiveCmd(args, os.Stdout)
	case "deadletter":
		err = deadLetterCmd(args, os.Stdout)
	case "stats":
		err = statsCmd(args, os.Stdout)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// parseCoord reads "x,y,z".
func parseCoord(s string) (world.Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return world.Coordinate{}, fmt.Errorf("bad coordinate %q: want x,y,z", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return world.Coordinate{}, fmt.Errorf("bad coordinate %q: %w", s, err)
		}
		v[i] = n
	}
	return world.FromArray(v), nil
}

// sinceTime turns "-since 2h" into an absolute time; empty means no bound.
func sinceTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad -since %q: %w", s, err)
	}
	return now.Add(-d), nil
}

var actions = action.NewRegistry()

// describe renders one activity as a lookup line.
func describe(a activity.Activity) string {
	verb := a.Action.Type
	if t, ok := actions.Lookup(a.Action.Type); ok {
		verb = t.PastTense
	}
	subject := "?"
	switch {
	case a.Action.Entity != nil:
		subject = a.Action.Entity.Kind
	case a.Action.Type == action.BlockPlace && a.Action.After != nil:
		subject = a.Action.After.Material
	case a.Action.Before != nil:
		subject = a.Action.Before.Material
	}
	return fmt.Sprintf("%s %s %s %s at %s in %s",
		a.Timestamp.UTC().Format(time.RFC3339), a.Cause, verb, subject, a.Location, a.World)
}

func printActivities(out io.Writer, as []activity.Activity) {
	for _, a := range as {
		fmt.Fprintln(out, describe(a))
	}
}
