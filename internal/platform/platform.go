// Package platform defines the contract for remote content sources and the
// registry the reconciler resolves them from.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/faithleysath/pt-web-automation/internal/model"
)

var (
	ErrPlatformNotFound = errors.New("platform not found")
	ErrDuplicate        = errors.New("platform already registered")
	ErrEpisodeNotFound  = errors.New("episode not found")
)

// Platform lists the episodes of a remote title and resolves one episode
// to a fetchable link. Both calls are network operations and may fail.
type Platform interface {
	Name() string
	EpisodesList(ctx context.Context, url string) (map[int]model.RemoteRef, error)
	DownloadLink(ctx context.Context, ref model.RemoteRef) (model.DownloadLink, error)
}

// Registry maps platform names to implementations. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]Platform)}
}

// Register adds p under p.Name(). Names are unique.
func (r *Registry) Register(p Platform) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("register platform: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.platforms[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.platforms[name] = p
	return nil
}

// Get returns the platform registered under name.
func (r *Registry) Get(name string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, name)
	}
	return p, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
