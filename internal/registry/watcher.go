package registry

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/praxishq/praxis/core/internal/config"
)

// WatchManifest reloads the plugin manifest when the file changes. New
// entries are registered; entries that disappear stay registered (unloading
// live plugins under traffic is an operator action, not an editor save).
// Blocks until ctx is canceled.
func (r *Registry) WatchManifest(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	log.Info().Str("manifest", path).Msg("Watching plugin manifest")

	// Editors often emit several write events per save; coalesce them.
	var debounce *time.Timer
	const settle = 250 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(settle, func() {
				m, err := config.LoadManifest(path)
				if err != nil {
					log.Warn().Err(err).Str("manifest", path).Msg("Manifest reload failed, keeping current plugins")
					return
				}
				r.LoadManifest(m)
				log.Info().Str("manifest", path).Msg("Plugin manifest reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Manifest watcher error")
		}
	}
}
