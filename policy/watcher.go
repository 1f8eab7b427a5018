package policy

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

/*
Watcher keeps a Table in sync with a YAML file.

The directory is watched rather than the file, because editors usually replace a file
instead of writing it in place. A file that fails to parse is logged and ignored: the
table keeps its last good content.
*/
type Watcher struct {
	table   *Table
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher

	// reloaded receives one value per reload attempt; tests wait on it.
	reloaded chan error

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Watch loads path into a new Table and keeps it updated until Close.
func Watch(path string, log zerolog.Logger) (*Watcher, error) {
	table, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		table:    table,
		path:     filepath.Clean(path),
		log:      log,
		watcher:  fw,
		reloaded: make(chan error, 16),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.watch()
	return w, nil
}

// Table returns the live table. Its content changes on reload; the pointer does not.
func (w *Watcher) Table() *Table {
	return w.table
}

// Reloaded delivers the outcome of each reload attempt. Reading it is optional.
func (w *Watcher) Reloaded() <-chan error {
	return w.reloaded
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Str("path", w.path).Msg("policy watcher error")
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("policy reload failed, keeping previous table")
	} else {
		w.table.Replace(next)
		w.log.Info().Str("path", w.path).Msg("policy table reloaded")
	}

	select {
	case w.reloaded <- err:
	default:
	}
}
