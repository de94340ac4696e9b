package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/faithleysath/pt-web-automation/internal/model"
)

const maxIndexSize = 4 << 20

// Index is a built-in platform for sources that publish a JSON episode
// index, such as a self-hosted mirror:
//
//	{"1": "https://cdn/show/e1/index.m3u8", "2": {"url": "...", "type": "mp4"}}
//
// Each value is either a URL or a link object; the episode reference is
// the JSON encoding of that value.
type Index struct {
	client *http.Client
}

func NewIndex(client *http.Client) *Index {
	return &Index{client: client}
}

func (*Index) Name() string { return "index" }

func (p *Index) EpisodesList(ctx context.Context, url string) (map[int]model.RemoteRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch index: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexSize))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	eps := make(map[int]model.RemoteRef, len(raw))
	for key, val := range raw {
		ep, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || ep <= 0 {
			continue
		}
		eps[ep] = model.RemoteRef(val)
	}
	return eps, nil
}

func (p *Index) DownloadLink(_ context.Context, ref model.RemoteRef) (model.DownloadLink, error) {
	var link model.DownloadLink
	var url string
	if err := json.Unmarshal([]byte(ref), &url); err == nil {
		link.URL = url
	} else if err := json.Unmarshal([]byte(ref), &link); err != nil {
		return model.DownloadLink{}, fmt.Errorf("decode episode reference: %w", err)
	}
	if link.URL == "" {
		return model.DownloadLink{}, fmt.Errorf("%w: empty url", ErrEpisodeNotFound)
	}
	if link.Kind == "" {
		link.Kind = kindFromURL(link.URL)
	} else {
		link.Kind = model.ParseFileKind(string(link.Kind))
	}
	return link, nil
}

// kindFromURL guesses the file kind from the URL path extension,
// defaulting to m3u8.
func kindFromURL(raw string) model.FileKind {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if ext := path.Ext(raw); ext != "" {
		return model.ParseFileKind(ext)
	}
	return model.FileM3U8
}
