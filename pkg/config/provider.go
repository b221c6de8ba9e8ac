package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arbiterhq/arbiter/pkg/ast"
)

// Snapshot is one consistent view of every pack in the watched directory.
// Namespaces are ordered by source file name so repeated loads of unchanged
// packs produce identical snapshots.
type Snapshot struct {
	Revision   string
	Namespaces []ast.Namespace
	Sources    []string
	LoadedAt   time.Time
}

// PackProvider watches a directory of *.json pack files and publishes a new
// Snapshot whenever they change. Subscribers receive the current snapshot on
// subscription and every successful reload afterwards; a failing reload keeps
// the previous snapshot in place.
type PackProvider struct {
	dir         string
	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers []chan Snapshot
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

// NewPackProvider loads the directory once and starts watching it.
func NewPackProvider(dir string) (*PackProvider, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve pack dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PackProvider{
		dir:     absDir,
		watcher: watcher,
		cancel:  cancel,
	}

	snap, err := loadPackDir(absDir)
	if err != nil {
		cancel()
		_ = watcher.Close()
		return nil, err
	}
	p.snapshot = snap

	if err := watcher.Add(absDir); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("watch pack dir: %w", err)
	}

	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the latest successfully loaded snapshot.
func (p *PackProvider) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel receiving the current snapshot immediately and
// every subsequent successful reload.
func (p *PackProvider) Subscribe() <-chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.snapshot
	return ch
}

// Close stops the watcher.
func (p *PackProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *PackProvider) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, p.reload)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("pack watcher error")
		}
	}
}

func (p *PackProvider) reload() {
	snap, err := loadPackDir(p.dir)
	if err != nil {
		log.Error().Err(err).Str("dir", p.dir).Msg("pack reload failed, keeping previous snapshot")
		return
	}

	p.mu.Lock()
	p.snapshot = snap
	subscribers := make([]chan Snapshot, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	log.Info().Str("revision", snap.Revision).Int("packs", len(snap.Sources)).Msg("packs reloaded")

	for _, ch := range subscribers {
		select {
		case ch <- snap:
		default:
			// Slow consumers miss intermediate snapshots, never block reloads.
		}
	}
}

// loadPackDir parses every *.json file in dir into one snapshot.
func loadPackDir(dir string) (Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read pack dir: %w", err)
	}

	var sources []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		sources = append(sources, e.Name())
	}
	sort.Strings(sources)

	snap := Snapshot{
		Revision: uuid.NewString(),
		Sources:  sources,
		LoadedAt: time.Now(),
	}
	for _, name := range sources {
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- dir is operator-supplied
		if err != nil {
			return Snapshot{}, fmt.Errorf("pack %s: %w", name, err)
		}
		namespaces, err := ParsePack(data)
		if err != nil {
			return Snapshot{}, fmt.Errorf("pack %s: %w", name, err)
		}
		snap.Namespaces = append(snap.Namespaces, namespaces...)
	}
	return snap, nil
}
