// Package file is a config.Source backed by a single file on disk,
// watched for changes with fsnotify (the bootstrap YAML at -c config.yaml).
package file

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/sluiceproxy/sluice/contrib/config"
)

var _ config.Source = (*fileSource)(nil)

type fileSource struct {
	path string
}

// NewSource returns a Source that loads and watches the file at path.
// Format is derived from the file extension (yaml/yml/json).
func NewSource(path string) config.Source {
	return &fileSource{path: path}
}

func (f *fileSource) format() string {
	ext := strings.TrimPrefix(filepath.Ext(f.path), ".")
	if ext == "" {
		return "yaml"
	}
	return ext
}

func (f *fileSource) Load() ([]*config.KeyValue, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	return []*config.KeyValue{
		{
			Key:    filepath.Base(f.path),
			Format: f.format(),
			Value:  data,
		},
	}, nil
}

func (f *fileSource) Watch() (config.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return nil, err
	}
	return &fileWatcher{source: f, fsw: w}, nil
}

type fileWatcher struct {
	source *fileSource
	fsw    *fsnotify.Watcher
}

func (w *fileWatcher) Next() ([]*config.KeyValue, error) {
	target := filepath.Clean(w.source.path)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil, nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			return w.source.Load()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil, nil
			}
			return nil, err
		}
	}
}

func (w *fileWatcher) Stop() error {
	return w.fsw.Close()
}
