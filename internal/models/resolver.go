// Package models resolves whisper model names against the model files
// present on disk. It stands in for the external model-management
// service: the orchestrator only needs an allow-list check and a path.
package models

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Supported is the static whisper.cpp model family, used for the
// "what can I download" hint when nothing is on disk yet.
var Supported = []string{
	"tiny.en", "base.en", "small.en", "medium.en",
	"tiny", "base", "small", "medium", "large",
}

// Resolver finds .bin model files in one or more directories.
// The directory scan is cached; Refresh drops the cache after the
// model manager adds a file.
type Resolver struct {
	dirs []string

	mu    sync.Mutex
	cache map[string]string // model name -> absolute path
}

func NewResolver(dirs ...string) *Resolver {
	kept := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d != "" {
			kept = append(kept, d)
		}
	}
	return &Resolver{dirs: kept}
}

// Resolve returns the path of the model file for name, accepting
// "base.en", "base.en.bin" and "ggml-base.en.bin" spellings.
func (r *Resolver) Resolve(name string) (string, error) {
	found, err := r.scan()
	if err != nil {
		return "", err
	}

	for _, candidate := range []string{
		name,
		strings.TrimSuffix(name, ".bin"),
		strings.TrimPrefix(strings.TrimSuffix(name, ".bin"), "ggml-"),
	} {
		if path, ok := found[candidate]; ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("model %q not found", name)
}

// Available lists the model names currently on disk, sorted.
func (r *Resolver) Available() []string {
	found, err := r.scan()
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Refresh drops the cached scan.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

func (r *Resolver) scan() (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache != nil {
		return r.cache, nil
	}

	found := make(map[string]string)
	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ".bin")
			name = strings.TrimPrefix(name, "ggml-")
			if _, ok := found[name]; !ok {
				found[name] = filepath.Join(dir, e.Name())
			}
		}
	}

	r.cache = found
	return found, nil
}
