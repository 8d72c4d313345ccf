// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// KeyName is the variable holding the upstream API key.
const KeyName = "API_KEY"

// KeySource resolves the upstream API key from, in order, the env file,
// the API_KEY environment variable, and the configured fallback.
type KeySource struct {
	path     string
	fallback string
	log      *zap.Logger

	mu  sync.RWMutex
	key string

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewKeySource loads the key once. A missing env file is not an error.
func NewKeySource(path, fallback string, log *zap.Logger) (*KeySource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	k := &KeySource{path: path, fallback: fallback, log: log.With(zap.String("component", "keys"))}
	if err := k.Reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// Key returns the current key, or "" when none is configured.
func (k *KeySource) Key() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key
}

// Reload rereads the env file and re-resolves the key.
func (k *KeySource) Reload() error {
	var fromFile string
	if k.path != "" {
		vars, err := ReadEnvFile(k.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return err
		default:
			fromFile = vars[KeyName]
		}
	}
	key := fromFile
	source := "env_file"
	if key == "" {
		key, source = os.Getenv(KeyName), "environment"
	}
	if key == "" {
		key, source = k.fallback, "config"
	}
	k.mu.Lock()
	changed := k.key != key
	k.key = key
	k.mu.Unlock()
	if changed {
		k.log.Info("api key loaded", zap.String("source", source), zap.Bool("empty", key == ""))
	}
	return nil
}

// Watch reloads the key whenever the env file is written, created or
// renamed into place. The directory is watched so editors that replace
// the file are followed.
func (k *KeySource) Watch() error {
	if k.path == "" {
		return errors.New("config: no env file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(k.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	k.watcher = w
	k.wg.Add(1)
	go k.watchLoop(filepath.Clean(k.path))
	return nil
}

func (k *KeySource) watchLoop(target string) {
	defer k.wg.Done()
	for {
		select {
		case event, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			k.log.Debug("env file changed", zap.String("op", event.Op.String()))
			if err := k.Reload(); err != nil {
				k.log.Error("reload api key", zap.Error(err))
			}
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			k.log.Error("env file watcher", zap.Error(err))
		}
	}
}

// Close stops watching.
func (k *KeySource) Close() error {
	if k.watcher == nil {
		return nil
	}
	err := k.watcher.Close()
	k.wg.Wait()
	return err
}

// ReadEnvFile parses KEY=VALUE lines. Blank lines and lines starting
// with # are skipped, an "export " prefix is allowed, and values may be
// wrapped in single or double quotes.
func ReadEnvFile(path string) (map[string]string, error) {
	// #nosec G304 - path comes from operator configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vars := make(map[string]string)
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		name, value, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("config: %s:%d: expected KEY=VALUE", path, n)
		}
		vars[name] = unquote(strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return vars, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	if i := strings.Index(v, " #"); i >= 0 {
		return strings.TrimSpace(v[:i])
	}
	return v
}
