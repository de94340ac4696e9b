// Package staging moves finished episode downloads into their season
// folder, where the torrent creator picks them up.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/internal/reconcile"
	"github.com/faithleysath/pt-web-automation/internal/store"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

var ErrOutsideDownloadDir = errors.New("path is not a subscription download")

// Repository resolves subscriptions by id.
type Repository interface {
	GetByID(ctx context.Context, id string) (*model.Subscription, error)
}

// Stager handles FileChanged events for files below DownloadDir.
type Stager struct {
	fs          afero.Fs
	downloadDir string
	mediaDir    string
	repo        Repository
	log         logger.Logger
}

func New(fs afero.Fs, downloadDir, mediaDir string, repo Repository, l logger.Logger) *Stager {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Stager{
		fs:          fs,
		downloadDir: filepath.Clean(downloadDir),
		mediaDir:    filepath.Clean(mediaDir),
		repo:        repo,
		log:         l,
	}
}

// Handler returns the bus handler for FileChanged events.
func (s *Stager) Handler() eventbus.Handler {
	return eventbus.On("staging", func(ctx context.Context, ev *eventbus.FileChanged) error {
		if ev.Change != eventbus.ChangeAdded && ev.Change != eventbus.ChangeRenamed {
			return nil
		}
		_, err := s.Stage(ctx, ev.Path)
		return err
	})
}

// Stage moves path, which must look like <download dir>/<id>/E<nn>.<ext>,
// to <media dir>/<folder>/<folder>.E<nn>.<ext> and returns the new path.
// Files that do not qualify are logged and left in place; an empty path
// and a nil error are returned for them.
func (s *Stager) Stage(ctx context.Context, path string) (string, error) {
	rel, err := filepath.Rel(s.downloadDir, filepath.Clean(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrOutsideDownloadDir, path)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		s.log.Debug("staging: ignoring %s", path)
		return "", nil
	}
	id, name := parts[0], parts[1]
	if strings.HasSuffix(name, reconcile.PartSuffix) {
		return "", nil
	}
	ep, ok := reconcile.EpisodeNumber(name)
	if !ok {
		s.log.Warning("staging: %s has no episode number, leaving it", path)
		return "", nil
	}
	if fi, err := s.fs.Stat(path); err != nil || fi.IsDir() {
		// renamed away or a directory
		return "", nil
	}

	sub, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		s.log.Warning("staging: %s belongs to unknown subscription %s, leaving it", path, id)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("staging %s: %w", path, err)
	}

	folder := sub.SeasonFolder()
	dest := filepath.Join(s.mediaDir, folder, fmt.Sprintf("%s.E%02d%s", folder, ep, filepath.Ext(name)))
	if err := s.move(path, dest); err != nil {
		return "", fmt.Errorf("move %s: %w", path, err)
	}
	s.log.Info("staging: moved %s to %s", path, dest)
	return dest, nil
}

// move renames src to dst, copying across filesystems when rename fails.
func (s *Stager) move(src, dst string) error {
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := s.fs.Rename(src, dst); err == nil {
		return nil
	}
	in, err := s.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := s.fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = s.fs.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return s.fs.Remove(src)
}
