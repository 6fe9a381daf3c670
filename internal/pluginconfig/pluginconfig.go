// Package pluginconfig manages the bot's YAML config file: the command name,
// the image URL template, and the reuploaded_cats map that doubles as the
// durable tier of the cat cache.
package pluginconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"httpcat/internal/core"
)

// Default values written to a fresh config file.
const (
	DefaultCommand = "http"
	DefaultURL     = "https://http.cat/{status}"
)

// Data is the on-disk layout.
type Data struct {
	Command        string                   `yaml:"command"`
	URL            string                   `yaml:"url"`
	ReuploadedCats map[string]core.MediaRef `yaml:"reuploaded_cats"`
}

// Defaults returns the base config used for missing keys.
func Defaults() Data {
	return Data{
		Command:        DefaultCommand,
		URL:            DefaultURL,
		ReuploadedCats: map[string]core.MediaRef{},
	}
}

// fileData detects which keys the user file actually sets.
type fileData struct {
	Command        *string                  `yaml:"command"`
	URL            *string                  `yaml:"url"`
	ReuploadedCats map[string]core.MediaRef `yaml:"reuploaded_cats"`
}

// Config is a mutex-guarded view of the config file.
type Config struct {
	mu   sync.RWMutex
	path string
	data Data
}

// New returns an in-memory Config seeded from data. Save is a no-op when path is empty.
func New(path string, data Data) *Config {
	if data.ReuploadedCats == nil {
		data.ReuploadedCats = map[string]core.MediaRef{}
	}
	return &Config{path: path, data: data}
}

// Load reads the file at path and layers it over defaults: keys present in
// the file win, missing keys come from defaults, unknown keys are dropped.
// A missing file is not an error.
func Load(path string, defaults Data) (*Config, error) {
	merged := Data{
		Command:        defaults.Command,
		URL:            defaults.URL,
		ReuploadedCats: make(map[string]core.MediaRef, len(defaults.ReuploadedCats)),
	}
	for k, v := range defaults.ReuploadedCats {
		merged.ReuploadedCats[k] = v
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("plugin config not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read plugin config: %w", err)
		default:
			var fd fileData
			if err := yaml.Unmarshal(raw, &fd); err != nil {
				return nil, fmt.Errorf("failed to parse plugin config: %w", err)
			}
			if fd.Command != nil {
				merged.Command = *fd.Command
			}
			if fd.URL != nil {
				merged.URL = *fd.URL
			}
			if fd.ReuploadedCats != nil {
				merged.ReuploadedCats = fd.ReuploadedCats
			}
		}
	}

	return New(path, merged), nil
}

// LoadAndUpdate loads the file and writes the merged result back, so a new
// install gets a complete file and an old one loses stale keys.
func LoadAndUpdate(path string, defaults Data) (*Config, error) {
	cfg, err := Load(path, defaults)
	if err != nil {
		return nil, err
	}
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the backing file path.
func (c *Config) Path() string {
	return c.path
}

// Command returns the invocable command name.
func (c *Config) Command() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Command
}

// URL returns the image URL template.
func (c *Config) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.URL
}

// Cat returns the stored MediaRef for status.
func (c *Config) Cat(status core.StatusCode) (*core.MediaRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.data.ReuploadedCats[status.String()]
	if !ok {
		return nil, false
	}
	return ref.Clone(), true
}

// PutCat stores ref under status and saves the file. The entry becomes
// visible only after the file is written, so a failed save leaves the config
// unchanged.
func (c *Config) PutCat(status core.StatusCode, ref *core.MediaRef) error {
	if ref == nil {
		return fmt.Errorf("media ref is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.data
	next.ReuploadedCats = make(map[string]core.MediaRef, len(c.data.ReuploadedCats)+1)
	for k, v := range c.data.ReuploadedCats {
		next.ReuploadedCats[k] = v
	}
	next.ReuploadedCats[status.String()] = *ref

	if err := c.write(&next); err != nil {
		return err
	}
	c.data = next
	return nil
}

// Cats returns every stored entry ordered by status code. Keys that are not
// integers are skipped.
func (c *Config) Cats() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.data.ReuploadedCats))
	for key, ref := range c.data.ReuploadedCats {
		status, err := core.ParseStatusCode(key)
		if err != nil {
			slog.Warn("skipping invalid reuploaded_cats key", "key", key)
			continue
		}
		entries = append(entries, Entry{Status: status, Ref: ref.Clone()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Status < entries[j].Status })
	return entries
}

// Entry is one reuploaded cat.
type Entry struct {
	Status core.StatusCode
	Ref    *core.MediaRef
}

// Save writes the config atomically (temp file + rename).
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(&c.data)
}

// write persists data. Callers hold c.mu.
func (c *Config) write(data *Data) error {
	if c.path == "" {
		return nil
	}

	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal plugin config: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".plugin-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp plugin config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		removeTemp(tmpName)
		return fmt.Errorf("failed to write plugin config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		removeTemp(tmpName)
		return fmt.Errorf("failed to write plugin config: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		removeTemp(tmpName)
		return fmt.Errorf("failed to rename plugin config: %w", err)
	}
	return nil
}

func removeTemp(name string) {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove temp plugin config", "path", name, "error", err)
	}
}
