package download

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/spf13/afero"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/internal/platform"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

// PartSuffix is appended to files while they are being written.
const PartSuffix = ".part"

var maxPlaylistSize int64 = 2 << 20

var (
	ErrNotPlaylist       = errors.New("not an m3u8 playlist")
	ErrEmptyPlaylist     = errors.New("playlist has no segments")
	ErrEncryptedPlaylist = errors.New("encrypted playlists are not supported")
	ErrPlaylistTooLarge  = errors.New("playlist too large")
)

// ProgressFunc reports download progress of one request. total is -1 when
// unknown. For playlists the unit is segments, otherwise bytes.
type ProgressFunc func(req *eventbus.DownloadRequested, done, total int64)

// Target places finished downloads below a root directory:
// <root>/<subscription id>/E<nn>.<ext>.
type Target struct {
	Fs   afero.Fs
	Root string
}

// Path returns the final path for req with extension ext.
func (t Target) Path(req *eventbus.DownloadRequested, ext string) string {
	return filepath.Join(t.Root, req.Subscription.ID, fmt.Sprintf("E%02d.%s", req.Episode, ext))
}

// write streams fill into path via a .part file that is renamed on success.
func (t Target) write(path string, fill func(w io.Writer) error) error {
	if err := t.Fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	part := path + PartSuffix
	f, err := t.Fs.Create(part)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 256<<10)
	if err := fill(bw); err != nil {
		_ = f.Close()
		_ = t.Fs.Remove(part)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = t.Fs.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		_ = t.Fs.Remove(part)
		return err
	}
	return t.Fs.Rename(part, path)
}

// HLSDownloader fetches m3u8 links and concatenates their segments into a
// single transport stream.
type HLSDownloader struct {
	Target   Target
	Client   *http.Client
	Retry    RetryConfig
	Progress ProgressFunc
	Log      logger.Logger
}

func NewHLSDownloader(target Target, client *http.Client, l logger.Logger) *HLSDownloader {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &HLSDownloader{
		Target: target,
		Client: client,
		Retry:  DefaultRetryConfig(),
		Log:    l,
	}
}

func (d *HLSDownloader) Download(ctx context.Context, req *eventbus.DownloadRequested) error {
	segments, err := d.resolveSegments(ctx, req)
	if err != nil {
		return err
	}
	path := d.Target.Path(req, "ts")
	total := int64(len(segments))
	d.Log.Debug("hls: %s episode %d has %d segments", req.Subscription.ID, req.Episode, total)

	return d.Target.write(path, func(w io.Writer) error {
		for i, seg := range segments {
			err := d.Retry.Do(ctx, func() error {
				data, err := fetch(ctx, d.Client, seg, req.Link.Headers, 0)
				if err != nil {
					return err
				}
				_, err = w.Write(data)
				return err
			})
			if err != nil {
				return fmt.Errorf("segment %d/%d: %w", i+1, total, err)
			}
			if d.Progress != nil {
				d.Progress(req, int64(i+1), total)
			}
		}
		return nil
	})
}

// resolveSegments returns the absolute segment URLs of the media playlist
// behind req, following a master playlist to the variant that best matches
// the subscription resolution.
func (d *HLSDownloader) resolveSegments(ctx context.Context, req *eventbus.DownloadRequested) ([]string, error) {
	playlistURL := req.Link.URL
	for hop := 0; hop < 2; hop++ {
		var body []byte
		err := d.Retry.Do(ctx, func() error {
			var err error
			body, err = fetch(ctx, d.Client, playlistURL, req.Link.Headers, maxPlaylistSize)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch playlist: %w", err)
		}
		pl, err := ParsePlaylist(body)
		if err != nil {
			return nil, err
		}
		if len(pl.Variants) > 0 {
			v := pl.Variant(req.Subscription.Resolution)
			playlistURL, err = resolveURL(playlistURL, v.URI)
			if err != nil {
				return nil, err
			}
			continue
		}
		if pl.Encrypted {
			return nil, ErrEncryptedPlaylist
		}
		if len(pl.Segments) == 0 {
			return nil, ErrEmptyPlaylist
		}
		out := make([]string, 0, len(pl.Segments))
		for _, s := range pl.Segments {
			u, err := resolveURL(playlistURL, s)
			if err != nil {
				return nil, err
			}
			out = append(out, u)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: nested master playlists", ErrNotPlaylist)
}

// Variant is one stream of a master playlist.
type Variant struct {
	URI       string
	Bandwidth int
	Height    int
}

// Playlist is the subset of an m3u8 playlist needed for downloading.
type Playlist struct {
	Variants  []Variant
	Segments  []string
	Encrypted bool
}

// Variant picks the stream whose height matches res, falling back to the
// first one.
func (p *Playlist) Variant(res model.Resolution) Variant {
	want, _ := strconv.Atoi(strings.TrimSuffix(string(res), "p"))
	for _, v := range p.Variants {
		if want > 0 && v.Height == want {
			return v
		}
	}
	return p.Variants[0]
}

// ParsePlaylist decodes a master or media playlist.
func ParsePlaylist(src []byte) (*Playlist, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(src, "\ufeff \t\r\n"), []byte("#EXTM3U")) {
		return nil, ErrNotPlaylist
	}
	decoded, kind, err := m3u8.DecodeFrom(bytes.NewReader(src), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPlaylist, err)
	}
	pl := &Playlist{}
	switch kind {
	case m3u8.MASTER:
		master := decoded.(*m3u8.MasterPlaylist)
		for _, v := range master.Variants {
			if v == nil || v.URI == "" {
				continue
			}
			pl.Variants = append(pl.Variants, Variant{
				URI:       v.URI,
				Bandwidth: int(v.Bandwidth),
				Height:    resolutionHeight(v.Resolution),
			})
		}
	case m3u8.MEDIA:
		media := decoded.(*m3u8.MediaPlaylist)
		pl.Encrypted = encrypted(media.Key)
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			if encrypted(seg.Key) {
				pl.Encrypted = true
			}
			pl.Segments = append(pl.Segments, seg.URI)
		}
	}
	return pl, nil
}

func encrypted(k *m3u8.Key) bool {
	return k != nil && k.Method != "" && k.Method != "NONE"
}

// resolutionHeight returns the height of a WIDTHxHEIGHT attribute.
func resolutionHeight(res string) int {
	_, h, ok := strings.Cut(res, "x")
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(h)
	return n
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// fetch GETs rawURL with headers. A positive limit caps the body size.
func fetch(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, limit int64) ([]byte, error) {
	resp, err := get(ctx, client, rawURL, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrPlaylistTooLarge, rawURL, limit)
	}
	return data, nil
}

func get(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", platform.DefaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return resp, nil
}
