package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"voxelprism.ai/internal/persistence/indexdb"
	"voxelprism.ai/internal/persistence/kv"
)

func lookupCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/activities.sqlite)")
	worldID := fs.String("world", "", "world id filter")
	actor := fs.String("actor", "", "actor name or uuid filter")
	act := fs.String("action", "", "action type filter, e.g. block-break")
	subject := fs.String("subject", "", "material or entity kind filter")
	near := fs.String("near", "", "center coordinate x,y,z")
	radius := fs.Int("radius", 5, "box radius around -near")
	since := fs.String("since", "", "only activities newer than this duration, e.g. 2h")
	limit := fs.Int("limit", 50, "result limit")
	asJSON := fs.Bool("json", false, "print raw activities as JSON lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := indexdb.Filter{
		World:   strings.TrimSpace(*worldID),
		Actor:   strings.TrimSpace(*actor),
		Action:  strings.TrimSpace(*act),
		Subject: strings.TrimSpace(*subject),
		Radius:  *radius,
		Limit:   *limit,
	}
	if strings.TrimSpace(*near) != "" {
		c, err := parseCoord(*near)
		if err != nil {
			return err
		}
		f.Near = &c
	}
	t, err := sinceTime(*since, time.Now())
	if err != nil {
		return err
	}
	f.Since = t

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "activities.sqlite")
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer idx.Close()

	res, err := idx.Query(context.Background(), f)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		for _, a := range res {
			if err := enc.Encode(a); err != nil {
				return err
			}
		}
		return nil
	}
	if len(res) == 0 {
		fmt.Fprintln(out, "no matching activities")
		return nil
	}
	printActivities(out, res)
	return nil
}

func scanCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dir := fs.String("dir", "", "pebble directory (default: <data>/kv)")
	since := fs.String("since", "", "only activities newer than this duration, e.g. 2h")
	limit := fs.Int("limit", 50, "result limit (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := sinceTime(*since, time.Now())
	if err != nil {
		return err
	}
	path := strings.TrimSpace(*dir)
	if path == "" {
		path = filepath.Join(*dataDir, "kv")
	}
	db, err := kv.Open(kv.Options{DataDir: path})
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	res, err := db.Scan(t, *limit)
	if err != nil {
		return err
	}
	printActivities(out, res)
	return nil
}
