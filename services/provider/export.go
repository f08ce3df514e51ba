package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

// sniffLen is how many leading bytes are inspected to detect compression.
const sniffLen = 512

// ExportCache keeps the day's export file on disk so a restarted job reads
// the exact same lines its checkpoint was counted against.
type ExportCache struct {
	fs     afero.Fs
	dir    string
	httpc  *http.Client
	retain RetainFunc
	log    *slog.Logger
}

// RetainFunc lists export files pruning must keep, such as those a
// restartable execution still reads.
type RetainFunc func(ctx context.Context) ([]string, error)

func NewExportCache(fs afero.Fs, dir string, httpc *http.Client) *ExportCache {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ExportCache{
		fs:    fs,
		dir:   dir,
		httpc: newHTTPClient(httpc),
		log:   slog.Default().With("component", "provider.export"),
	}
}

// SetRetain installs the list of exports that survive pruning. Call it
// before the first Open.
func (c *ExportCache) SetRetain(fn RetainFunc) { c.retain = fn }

// Open returns the export named name, downloading it from url on first use.
// The reader yields decompressed JSON lines whether or not the file is
// gzip-compressed. Older exports sharing the same prefix are pruned after a
// fresh download unless the retain list names them.
func (c *ExportCache) Open(ctx context.Context, url, name, prefix string) (io.ReadCloser, error) {
	path := filepath.Join(c.dir, name)
	exists, err := afero.Exists(c.fs, path)
	if err != nil {
		return nil, fmt.Errorf("stat export %s: %w", path, err)
	}
	if !exists {
		if err := c.download(ctx, url, path); err != nil {
			return nil, err
		}
		c.prune(ctx, prefix, name)
	} else {
		c.log.Info("reusing cached export", "file", name)
	}
	return c.openFile(path)
}

func (c *ExportCache) download(ctx context.Context, url, path string) error {
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.log.Info("downloading export", "url", url)
	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("download export: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError("export", url, resp)
	}

	tmp := path + ".part"
	f, err := c.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("write export: %v: %w", copyErr, ErrTransient)
	}
	if closeErr != nil {
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("close export file: %w", closeErr)
	}
	if err := c.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize export file: %w", err)
	}
	c.log.Info("export downloaded", "file", filepath.Base(path), "bytes", n)
	return nil
}

func (c *ExportCache) prune(ctx context.Context, prefix, keep string) {
	if prefix == "" {
		return
	}
	retained := map[string]bool{keep: true}
	if c.retain != nil {
		names, err := c.retain(ctx)
		if err != nil {
			c.log.Warn("skipping export pruning", "error", err)
			return
		}
		for _, n := range names {
			retained[n] = true
		}
	}
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || retained[e.Name()] || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := c.fs.Remove(filepath.Join(c.dir, e.Name())); err == nil {
			c.log.Debug("pruned old export", "file", e.Name())
		}
	}
}

func (c *ExportCache) openFile(path string) (io.ReadCloser, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export %s: %w", path, err)
	}
	return decompress(f)
}

// decompress wraps rc with a gzip reader when its content is gzip.
func decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(rc, 64*1024)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		rc.Close()
		return nil, fmt.Errorf("read export header: %w", err)
	}
	if !mimetype.Detect(head).Is("application/gzip") {
		return &readCloser{Reader: br, closers: []io.Closer{rc}}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("open gzip export: %w", err)
	}
	return &readCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
