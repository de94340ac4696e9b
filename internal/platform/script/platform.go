// Package script loads platforms implemented in JavaScript.
//
// A script platform is a directory holding manifest.json and an entry
// script (main.js by default) that defines two functions:
//
//	function episodes(url) { return {"1": "ref-1", "2": "ref-2"} }
//	function link(ref) { return {url: "...", type: "m3u8", headers: {}} }
//
// Scripts can call request({method, url, headers, body}) for HTTP and
// log(...) for logging, and may require() files from their own directory.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

const (
	defaultEntrypoint = "main.js"
	episodesFunc      = "episodes"
	linkFunc          = "link"
)

var (
	ErrInvalidPlatform    = errors.New("invalid script platform")
	ErrEntrypointNotFound = errors.New("entrypoint not found")
	ErrFunctionNotDefined = errors.New("function not defined")
	ErrInvalidReturnType  = errors.New("invalid return type")
)

// Manifest describes a script platform.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	// Entrypoint is the main script, relative to the platform directory.
	Entrypoint string `json:"entrypoint,omitempty"`
}

// Platform is a platform.Platform backed by a goja runtime.
type Platform struct {
	Manifest
	dir string

	mu sync.Mutex
	rt *runtime
}

// Open reads the manifest in dir and evaluates the entry script.
func Open(dir string, client *http.Client, l logger.Logger) (*Platform, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no manifest.json", ErrInvalidPlatform, dir)
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrInvalidPlatform, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%w: manifest has no name", ErrInvalidPlatform)
	}
	if m.Entrypoint == "" {
		m.Entrypoint = defaultEntrypoint
	}

	entryPath := filepath.Join(dir, m.Entrypoint)
	src, err := os.ReadFile(entryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrEntrypointNotFound, entryPath)
		}
		return nil, err
	}

	rt, err := newRuntime(dir, client, logger.WithPrefix(l, "platform "+m.Name))
	if err != nil {
		return nil, err
	}
	if _, err := rt.vm.RunScript(entryPath, string(src)); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", entryPath, err)
	}
	for _, fn := range []string{episodesFunc, linkFunc} {
		if _, ok := goja.AssertFunction(rt.vm.Get(fn)); !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrFunctionNotDefined, fn, entryPath)
		}
	}
	return &Platform{Manifest: m, dir: dir, rt: rt}, nil
}

func (p *Platform) Name() string { return p.Manifest.Name }

// EpisodesList calls episodes(url). The script returns an object keyed by
// episode number; values are references handed back to link(). Non-string
// values are passed back as their JSON encoding.
func (p *Platform) EpisodesList(ctx context.Context, url string) (map[int]model.RemoteRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.rt.call(ctx, episodesFunc, url)
	if err != nil {
		return nil, fmt.Errorf("%s: episodes: %w", p.Name(), err)
	}
	raw, ok := v.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: episodes: %w: want object, got %T", p.Name(), ErrInvalidReturnType, v.Export())
	}
	eps := make(map[int]model.RemoteRef, len(raw))
	for key, val := range raw {
		ep, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || ep <= 0 {
			continue
		}
		ref, err := toRef(val)
		if err != nil {
			return nil, fmt.Errorf("%s: episode %d: %w", p.Name(), ep, err)
		}
		eps[ep] = ref
	}
	return eps, nil
}

// DownloadLink calls link(ref) and decodes the returned object.
func (p *Platform) DownloadLink(ctx context.Context, ref model.RemoteRef) (model.DownloadLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.rt.call(ctx, linkFunc, string(ref))
	if err != nil {
		return model.DownloadLink{}, fmt.Errorf("%s: link: %w", p.Name(), err)
	}
	var out struct {
		URL     string            `json:"url"`
		Type    string            `json:"type"`
		Headers map[string]string `json:"headers"`
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return model.DownloadLink{}, fmt.Errorf("%s: link: %w: empty result", p.Name(), ErrInvalidReturnType)
	}
	if err := p.rt.vm.ExportTo(v, &out); err != nil {
		return model.DownloadLink{}, fmt.Errorf("%s: link: %w: %v", p.Name(), ErrInvalidReturnType, err)
	}
	if out.URL == "" {
		return model.DownloadLink{}, fmt.Errorf("%s: link: %w: missing url", p.Name(), ErrInvalidReturnType)
	}
	kind := model.ParseFileKind(out.Type)
	if kind == "" {
		kind = model.FileM3U8
	}
	return model.DownloadLink{URL: out.URL, Kind: kind, Headers: out.Headers}, nil
}

func toRef(v interface{}) (model.RemoteRef, error) {
	switch x := v.(type) {
	case string:
		return model.RemoteRef(x), nil
	case int64:
		return model.RemoteRef(strconv.FormatInt(x, 10)), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return model.RemoteRef(b), nil
	}
}

// LoadDir opens every platform directory below root. Directories that fail
// to load are logged and skipped. A missing root yields no platforms.
func LoadDir(root string, client *http.Client, l logger.Logger) ([]*Platform, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read platform dir: %w", err)
	}
	var out []*Platform
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		p, err := Open(dir, client, l)
		if err != nil {
			l.Error("script: skip %s: %v", dir, err)
			continue
		}
		l.Info("script: loaded platform %s %s from %s", p.Name(), p.Version, dir)
		out = append(out, p)
	}
	return out, nil
}
