package evolution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/sandbox"
	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/pkg/models"
)

// Checkpointer snapshots the live tree before an evolution is applied and
// restores it byte-for-byte on rollback. Snapshots are plain directory
// copies under the checkpoint dir; the store holds only metadata.
type Checkpointer struct {
	liveDir string
	baseDir string
	keep    int
	cps     store.CheckpointStore
}

// NewCheckpointer creates a checkpointer. keep bounds how many snapshots are
// retained; older ones are pruned after each new checkpoint.
func NewCheckpointer(liveDir, baseDir string, keep int, cps store.CheckpointStore) *Checkpointer {
	return &Checkpointer{liveDir: liveDir, baseDir: baseDir, keep: keep, cps: cps}
}

// Create snapshots the live tree. The snapshot is complete before this
// returns; an error means no partial checkpoint is recorded.
func (c *Checkpointer) Create(ctx context.Context, label string) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{
		ID:        uuid.New().String(),
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}
	cp.Dir = filepath.Join(c.baseDir, cp.ID)

	if err := os.MkdirAll(cp.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := sandbox.CopyTree(c.liveDir, cp.Dir); err != nil {
		os.RemoveAll(cp.Dir)
		return nil, fmt.Errorf("snapshot live tree: %w", err)
	}

	cp.FileCount, cp.TotalBytes = treeStats(cp.Dir)

	if err := c.cps.CreateCheckpoint(ctx, cp); err != nil {
		os.RemoveAll(cp.Dir)
		return nil, err
	}

	log.Info().
		Str("checkpoint_id", cp.ID).
		Str("label", label).
		Int("files", cp.FileCount).
		Int64("bytes", cp.TotalBytes).
		Msg("Checkpoint created")

	c.prune(ctx)
	return cp, nil
}

// Restore replaces the live tree with the snapshot's contents. The live dir
// is cleared first so files created after the checkpoint do not survive.
func (c *Checkpointer) Restore(ctx context.Context, id string) error {
	cp, err := c.cps.GetCheckpoint(ctx, id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cp.Dir); err != nil {
		return fmt.Errorf("checkpoint %s snapshot missing: %w", id, err)
	}

	if err := clearDir(c.liveDir); err != nil {
		return fmt.Errorf("clear live tree: %w", err)
	}
	if err := sandbox.CopyTree(cp.Dir, c.liveDir); err != nil {
		return fmt.Errorf("restore live tree from %s: %w", id, err)
	}

	log.Info().
		Str("checkpoint_id", id).
		Str("label", cp.Label).
		Msg("Live tree restored from checkpoint")
	return nil
}

// prune removes the oldest checkpoints beyond the retention count. Prune
// failures are logged, never fatal: an extra snapshot is safer than a
// missing one.
func (c *Checkpointer) prune(ctx context.Context) {
	if c.keep <= 0 {
		return
	}
	cps, err := c.cps.ListCheckpoints(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Checkpoint prune: list failed")
		return
	}
	if len(cps) <= c.keep {
		return
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].CreatedAt.Before(cps[j].CreatedAt) })
	for _, cp := range cps[:len(cps)-c.keep] {
		if err := c.cps.DeleteCheckpoint(ctx, cp.ID); err != nil {
			log.Warn().Err(err).Str("checkpoint_id", cp.ID).Msg("Checkpoint prune: delete failed")
			continue
		}
		if err := os.RemoveAll(cp.Dir); err != nil {
			log.Warn().Err(err).Str("dir", cp.Dir).Msg("Checkpoint prune: remove failed")
		}
		log.Debug().Str("checkpoint_id", cp.ID).Msg("Old checkpoint pruned")
	}
}

// clearDir removes every entry inside dir without removing dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func treeStats(dir string) (files int, bytes int64) {
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if info.Mode().IsRegular() {
			files++
			bytes += info.Size()
		}
		return nil
	})
	return files, bytes
}
