package loader

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Controls are the runtime knobs an operator can flip without a restart:
// the trading enable gate and the daily inference budget ceiling.
type Controls struct {
	Enabled         bool    `mapstructure:"enabled"`
	DailyCeilingUSD float64 `mapstructure:"daily_ceiling_usd"`
	LoadedAt        time.Time
}

// ChangeListener is called with the new snapshot after a reload.
type ChangeListener func(Controls)

// ControlsLoader reads the controls file and watches it for edits.
type ControlsLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Controls
	listeners []ChangeListener
}

// NewControlsLoader reads the file once and starts the FS watch.
func NewControlsLoader(path string) (*ControlsLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("controls loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read controls file failed: %w", err)
	}
	l := &ControlsLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("controls reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

func (l *ControlsLoader) reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return err
	}
	var c Controls
	if err := l.v.Unmarshal(&c); err != nil {
		return fmt.Errorf("parse controls failed: %w", err)
	}
	c.LoadedAt = time.Now()
	l.mu.Lock()
	l.snapshot = c
	l.mu.Unlock()
	logger.Infof("controls loaded: enabled=%v ceiling=%.2f", c.Enabled, c.DailyCeilingUSD)
	return nil
}

func (l *ControlsLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Snapshot returns the current controls.
func (l *ControlsLoader) Snapshot() Controls {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// OnChange registers a listener for future reloads.
func (l *ControlsLoader) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// SetEnabled flips the gate in memory, e.g. from the admin API. The file
// keeps its value until the next edit; the in-memory state wins.
func (l *ControlsLoader) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.snapshot.Enabled = enabled
	l.mu.Unlock()
	l.notify()
	logger.Infof("trading %s via admin control", map[bool]string{true: "enabled", false: "disabled"}[enabled])
}
