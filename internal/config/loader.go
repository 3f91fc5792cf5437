package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads a YAML config file and watches it for changes.
// Only configs that pass Validate and every OnChange hook become current.
type Loader struct {
	path     string
	logger   *slog.Logger
	reloadMu sync.Mutex
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config) error
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{path: filepath.Clean(path), logger: logger}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Path returns the watched file.
func (l *Loader) Path() string { return l.path }

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a hook run on every reload before the new config is
// committed. A hook error rejects the reload.
func (l *Loader) OnChange(fn func(*Config) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// The parent directory is watched so editors that replace the file are seen.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != l.path {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("hot-reload skipped: config invalid", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	hooks := slices.Clone(l.onChange)
	l.mu.RUnlock()
	for _, fn := range hooks {
		if err := fn(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", l.path, err)
		}
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	l.logger.Info("config reloaded", "path", l.path, "version", cfg.Version)
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", l.path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, expanding ${VAR} references from the environment,
// applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envRef matches ${NAME}. Bare $NAME is left alone since JSON paths start with $.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

func applyDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.EventWorkers == 0 {
		e.EventWorkers = 32
	}
	if e.BatchWorkers == 0 {
		e.BatchWorkers = 4
	}
	if e.QueueDepth == 0 {
		e.QueueDepth = 10000
	}
	if e.EventTimeoutMs == 0 {
		e.EventTimeoutMs = 5000
	}
	if e.MaxBatchSize == 0 {
		e.MaxBatchSize = 100
	}
	if e.IngestRateLimit > 0 && e.IngestBurst == 0 {
		e.IngestBurst = int(e.IngestRateLimit)
		if e.IngestBurst < 1 {
			e.IngestBurst = 1
		}
	}
	if e.FQLCacheSize == 0 {
		e.FQLCacheSize = 4096
	}
}
