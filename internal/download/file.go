package download

import (
	"context"
	"io"
	"net/http"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

// FileDownloader fetches links that point at a single file (mp4, mkv, ass).
type FileDownloader struct {
	Target   Target
	Client   *http.Client
	Retry    RetryConfig
	Progress ProgressFunc
	Log      logger.Logger
}

func NewFileDownloader(target Target, client *http.Client, l logger.Logger) *FileDownloader {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &FileDownloader{
		Target: target,
		Client: client,
		Retry:  DefaultRetryConfig(),
		Log:    l,
	}
}

func (d *FileDownloader) Download(ctx context.Context, req *eventbus.DownloadRequested) error {
	path := d.Target.Path(req, string(req.Link.Kind))
	return d.Retry.Do(ctx, func() error {
		resp, err := get(ctx, d.Client, req.Link.URL, req.Link.Headers)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		d.Log.Debug("file: %s episode %d, %d bytes", req.Subscription.ID, req.Episode, resp.ContentLength)
		return d.Target.write(path, func(w io.Writer) error {
			var r io.Reader = resp.Body
			if d.Progress != nil {
				r = &progressReader{r: resp.Body, total: resp.ContentLength, fn: func(done, total int64) {
					d.Progress(req, done, total)
				}}
			}
			_, err := io.Copy(w, r)
			return err
		})
	})
}

type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}
