package storage

import (
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// progressReader logs every tenth of a transfer.
type progressReader struct {
	r        io.Reader
	key      string
	total    int64
	read     int64
	reported int64
}

func newProgressReader(r io.Reader, key string, total int64) *progressReader {
	return &progressReader{r: r, key: key, total: total}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		step := p.read * 10 / p.total
		if step > p.reported {
			p.reported = step
			slog.Debug("upload progress",
				"key", p.key,
				"transferred", humanize.IBytes(uint64(p.read)),
				"total", humanize.IBytes(uint64(p.total)),
				"percent", step*10,
			)
		}
	}
	return n, err
}
