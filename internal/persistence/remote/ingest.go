// Package remote ships activity batches to an HTTP ingest endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"voxelprism.ai/internal/activity"
)

const TokenHeader = "x-vp-ingest-token"

type Config struct {
	Endpoint    string
	Token       string
	WorldID     string
	HTTPTimeout time.Duration
	Logger      *log.Logger
}

type Ingest struct {
	cfg        Config
	httpClient *http.Client

	sent      atomic.Uint64
	batches   atomic.Uint64
	failTotal atomic.Uint64
}

type Stats struct {
	SentTotal      uint64 `json:"sent_total"`
	BatchesTotal   uint64 `json:"batches_total"`
	FlushFailTotal uint64 `json:"flush_fail_total"`
}

// Payload is the request body posted to the endpoint.
type Payload struct {
	WorldID    string              `json:"world_id"`
	Activities []activity.Activity `json:"activities"`
}

func Open(cfg Config) (*Ingest, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Ingest{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// Persist posts the batch once. The endpoint must treat activity ids as
// idempotency keys; the recording queue retries failed batches.
func (d *Ingest) Persist(ctx context.Context, batch []activity.Activity) error {
	if len(batch) == 0 {
		return nil
	}
	buf, err := json.Marshal(Payload{WorldID: d.cfg.WorldID, Activities: batch})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set(TokenHeader, d.cfg.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.fail(len(batch), err)
		return fmt.Errorf("ingest post: %w", err)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("ingest status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		d.fail(len(batch), err)
		return err
	}
	d.sent.Add(uint64(len(batch)))
	d.batches.Add(1)
	return nil
}

func (d *Ingest) Stats() Stats {
	return Stats{
		SentTotal:      d.sent.Load(),
		BatchesTotal:   d.batches.Load(),
		FlushFailTotal: d.failTotal.Load(),
	}
}

func (d *Ingest) Close() error { return nil }

func (d *Ingest) fail(n int, err error) {
	d.failTotal.Add(1)
	if d.cfg.Logger != nil {
		d.cfg.Logger.Printf("remote ingest failed batch=%d err=%v", n, err)
	}
}
