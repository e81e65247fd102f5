// Package watch converts playlists dropped into a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agleyzer/hlsaudio/internal/convert"
	"github.com/agleyzer/hlsaudio/internal/sink"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// PlaylistExt is the extension of watched playlists.
const PlaylistExt = ".m3u8"

// Options configures a Watcher.
type Options struct {
	// Dir is the watched directory
	Dir string
	// Extension is appended to the playlist name without ".m3u8"
	Extension string
	// Settle is how long a playlist must stay unchanged before conversion
	Settle time.Duration
	// Sink configures output writing
	Sink sink.Options
}

// Watcher converts every playlist that appears or changes in a directory.
type Watcher struct {
	converter *convert.Converter
	opts      Options
	logger    hclog.Logger

	// done maps a playlist path to the modification time it was converted at
	done map[string]time.Time
}

// New creates a Watcher.
func New(converter *convert.Converter, opts Options, logger hclog.Logger) *Watcher {
	if opts.Extension == "" {
		opts.Extension = ".mp3"
	}
	if !strings.HasPrefix(opts.Extension, ".") {
		opts.Extension = "." + opts.Extension
	}
	if opts.Settle <= 0 {
		opts.Settle = 200 * time.Millisecond
	}
	return &Watcher{
		converter: converter,
		opts:      opts,
		logger:    logger,
		done:      make(map[string]time.Time),
	}
}

// OutputPath returns the audio file written for a playlist.
func OutputPath(playlistPath, ext string) string {
	return strings.TrimSuffix(playlistPath, filepath.Ext(playlistPath)) + ext
}

// Run watches until ctx is cancelled. Conversion failures are logged and do
// not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.opts.Dir, err)
	}

	w.logger.Info("watching for playlists", "dir", w.opts.Dir, "extension", w.opts.Extension)

	tick := w.opts.Settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != PlaylistExt {
				continue
			}
			pending[event.Name] = time.Now()

		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < w.opts.Settle {
					continue
				}
				delete(pending, path)
				w.process(ctx, path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("playlist vanished before conversion", "playlist", path)
		return
	}
	if converted, ok := w.done[path]; ok && !info.ModTime().After(converted) {
		return
	}

	output := OutputPath(path, w.opts.Extension)
	if err := w.convert(ctx, path, output); err != nil {
		w.logger.Error("conversion failed",
			"playlist", path,
			"kind", convert.Kind(err),
			"error", err,
		)
		return
	}

	w.done[path] = info.ModTime()
	w.logger.Info("playlist converted", "playlist", path, "output", output)
}

func (w *Watcher) convert(ctx context.Context, path, output string) error {
	data, err := w.converter.ConvertLocation(ctx, path)
	if err != nil {
		return err
	}
	return sink.Write(ctx, output, data, w.opts.Sink)
}
