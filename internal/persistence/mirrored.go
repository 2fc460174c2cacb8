// Package persistence composes activity stores.
package persistence

import (
	"context"
	"errors"
	"io"
	"log"

	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/recording"
)

// Mirrored writes to a primary store and then copies each committed batch
// to best-effort mirrors. Only the primary's error is returned, so a retry
// never re-sends a batch the mirrors already have.
type Mirrored struct {
	Primary recording.Persister
	Mirrors []recording.Persister
	Logger  *log.Logger
}

func (m *Mirrored) Persist(ctx context.Context, batch []activity.Activity) error {
	if err := m.Primary.Persist(ctx, batch); err != nil {
		return err
	}
	for i, mirror := range m.Mirrors {
		if err := mirror.Persist(ctx, batch); err != nil && m.Logger != nil {
			m.Logger.Printf("mirror write failed mirror=%d batch=%d err=%v", i, len(batch), err)
		}
	}
	return nil
}

// Close closes every store that implements io.Closer.
func (m *Mirrored) Close() error {
	var errs []error
	for _, p := range append([]recording.Persister{m.Primary}, m.Mirrors...) {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
