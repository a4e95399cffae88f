package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Reloadable is the subset of options that may change at runtime
// without a restart. Everything else requires a new process.
type Reloadable struct {
	RatePattern       string
	RequestsPerMinute float64
	BurstAllowance    int
	BehaviorProfile   string
	LogLevel          string
}

// ReloadFunc receives the new reloadable snapshot after a change.
type ReloadFunc func(Reloadable)

// Watcher watches the data directory .env file and re-applies the
// reloadable option subset when it changes. Some editors replace the
// file instead of writing in place, so the parent directory is watched
// and a polling fallback covers filesystems without inotify support.
type Watcher struct {
	cfg      *Config
	path     string
	mu       sync.Mutex
	onChange []ReloadFunc
	lastMod  time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for cfg's .env file. Call Start to
// begin watching.
func NewWatcher(cfg *Config) *Watcher {
	return &Watcher{
		cfg:  cfg,
		path: cfg.EnvFilePath(),
		stop: make(chan struct{}),
	}
}

// OnChange registers a callback invoked after each successful reload.
func (w *Watcher) OnChange(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling only")
		go w.pollLoop()
		return
	}
	if err := fsw.Add(w.cfg.DataDir); err != nil {
		log.Warn().Err(err).Str("dir", w.cfg.DataDir).Msg("Cannot watch data directory, falling back to polling only")
		fsw.Close()
		go w.pollLoop()
		return
	}

	go w.watchLoop(fsw)
	go w.pollLoop()
}

// Stop halts watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) watchLoop(fsw *fsnotify.Watcher) {
	defer fsw.Close()

	var debounce *time.Timer
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors often emit several events per save.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, w.Reload)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// pollLoop catches changes fsnotify misses (NFS, some container mounts).
func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := info.ModTime().After(w.lastMod)
			w.mu.Unlock()
			if changed {
				w.Reload()
			}
		}
	}
}

// Reload re-reads the .env file and applies the reloadable subset.
// Also invoked directly on SIGHUP. Invalid content is logged and
// skipped; the previous configuration stays in effect.
func (w *Watcher) Reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	fresh, err := Load()
	if err != nil {
		log.Warn().Err(err).Msg("Config reload failed, keeping previous configuration")
		return
	}

	snap := Reloadable{
		RatePattern:       fresh.Rate.Pattern,
		RequestsPerMinute: fresh.Rate.RequestsPerMinute,
		BurstAllowance:    fresh.Rate.BurstAllowance,
		BehaviorProfile:   fresh.Behavior,
		LogLevel:          fresh.Log.Level,
	}

	prev := Reloadable{
		RatePattern:       w.cfg.Rate.Pattern,
		RequestsPerMinute: w.cfg.Rate.RequestsPerMinute,
		BurstAllowance:    w.cfg.Rate.BurstAllowance,
		BehaviorProfile:   w.cfg.Behavior,
		LogLevel:          w.cfg.Log.Level,
	}
	if snap == prev {
		return
	}

	w.cfg.Rate.Pattern = snap.RatePattern
	w.cfg.Rate.RequestsPerMinute = snap.RequestsPerMinute
	w.cfg.Rate.BurstAllowance = snap.BurstAllowance
	w.cfg.Behavior = snap.BehaviorProfile
	w.cfg.Log.Level = snap.LogLevel

	log.Info().
		Str("rate_pattern", snap.RatePattern).
		Float64("requests_per_minute", snap.RequestsPerMinute).
		Str("behavior_profile", snap.BehaviorProfile).
		Str("log_level", snap.LogLevel).
		Msg("Applied configuration reload")

	for _, fn := range w.onChange {
		fn(snap)
	}
}
