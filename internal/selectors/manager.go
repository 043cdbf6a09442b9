package selectors

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Manager provides hot-reload capable selector management. It starts from
// the embedded defaults and optionally watches an external override file.
// Reads are lock-free through atomic.Value.
type Manager struct {
	current      atomic.Value // *Selectors
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewManager creates a manager. With an empty externalPath only the
// embedded selectors are used. With hotReload set, changes to the file
// swap the active set at runtime.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(Get())

	if externalPath == "" {
		return m, nil
	}

	if err := m.loadExternal(); err != nil {
		log.Warn().Err(err).Str("path", externalPath).
			Msg("Failed to load external selectors, using embedded defaults")
	} else {
		log.Info().Str("path", externalPath).Msg("Loaded external selectors file")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().Err(err).Str("path", externalPath).
				Msg("Failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().Str("path", externalPath).Msg("Hot-reload enabled for selectors file")
		}
	}

	return m, nil
}

// Current returns the active selector set. Lock-free and safe for
// concurrent use.
func (m *Manager) Current() *Selectors {
	return m.current.Load().(*Selectors)
}

// Reload manually reloads selectors from the external file. On failure the
// previous set stays active.
func (m *Manager) Reload() error {
	if m.externalPath == "" {
		return fmt.Errorf("no external selectors path configured")
	}
	return m.loadExternal()
}

func (m *Manager) loadExternal() error {
	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		return err
	}

	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse selectors file: %w", err)
	}

	// Missing sections fall back to the embedded defaults.
	embedded := Get()
	if len(s.ChallengeTitles) == 0 {
		s.ChallengeTitles = embedded.ChallengeTitles
	}
	if len(s.ChallengeMarkers) == 0 {
		s.ChallengeMarkers = embedded.ChallengeMarkers
	}
	if len(s.ClickSelectors) == 0 {
		s.ClickSelectors = embedded.ClickSelectors
	}
	if s.TurnstileFramePattern == "" {
		s.TurnstileFramePattern = embedded.TurnstileFramePattern
	}

	m.current.Store(&s)
	return nil
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(m.externalPath)); err != nil {
		watcher.Close()
		return err
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	defer m.wg.Done()
	target := filepath.Clean(m.externalPath)

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := m.loadExternal(); err != nil {
				log.Warn().Err(err).Msg("Selector reload failed, keeping previous set")
			} else {
				log.Info().Str("path", m.externalPath).Msg("Selectors reloaded")
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Selector watcher error")
		}
	}
}

// Close stops the watcher.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stopCh)
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
	return nil
}
