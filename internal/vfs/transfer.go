package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// DownloadInfo describes a located file before its bytes are streamed.
type DownloadInfo struct {
	LogicalName string
	ContentType string
	Compressed  bool
}

// Upload streams body through gzip into dir, publishing the result as
// <logicalName>.gz. The compressed stream is written to a temp file in the
// target directory and renamed into place on success, so readers never see
// a partial object and a failed upload leaves nothing behind.
//
// The pipeline is a straight io.Copy through the gzip writer: a slow disk
// applies backpressure to the reader and memory use stays constant
// regardless of payload size.
func Upload(ctx context.Context, dir ResolvedPath, logicalName string, body io.Reader) (string, error) {
	if !validSegment(logicalName) {
		return "", fmt.Errorf("file name %q: %w", logicalName, ErrInvalidPath)
	}

	storedName := StoredName(logicalName)
	target := filepath.Join(dir.Abs, storedName)

	tmp, err := os.CreateTemp(dir.Abs, ".coffre-*.tmp")
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("target folder: %w", ErrNotFound)
		}
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}

	gz := gzip.NewWriter(tmp)
	if _, err := io.Copy(gz, &contextReader{ctx: ctx, r: body}); err != nil {
		gz.Close()
		return fail(fmt.Errorf("compress %s: %w", logicalName, err))
	}
	if err := gz.Close(); err != nil {
		return fail(fmt.Errorf("flush %s: %w", logicalName, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish %s: %w", storedName, err)
	}
	return storedName, nil
}

// Locate probes for a file at res, trying the literal name first and the
// compressed variant second. Pre-existing uncompressed content keeps
// working through the literal probe.
func Locate(res ResolvedPath) (string, DownloadInfo, error) {
	if len(res.Segments) == 0 {
		return "", DownloadInfo{}, fmt.Errorf("file: %w", ErrNotFound)
	}

	for _, candidate := range []string{res.Abs, res.Abs + storedSuffix} {
		info, err := os.Stat(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", DownloadInfo{}, fmt.Errorf("stat file: %w", err)
		}
		if info.IsDir() {
			continue
		}
		logical := LogicalName(filepath.Base(candidate))
		return candidate, DownloadInfo{
			LogicalName: logical,
			ContentType: ContentTypeFor(logical),
			Compressed:  IsStored(candidate),
		}, nil
	}
	return "", DownloadInfo{}, fmt.Errorf("file: %w", ErrNotFound)
}

// Download locates a file and streams its decompressed content to w.
// Compressed objects whose bytes are not valid gzip fail with
// ErrCorruptData before anything is written; a mid-stream decode failure
// is returned to the caller so the response can be aborted instead of
// closed as if complete.
func Download(ctx context.Context, res ResolvedPath, w io.Writer) (DownloadInfo, error) {
	path, info, err := Locate(res)
	if err != nil {
		return DownloadInfo{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return DownloadInfo{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if info.Compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return info, fmt.Errorf("%s: %w", info.LogicalName, ErrCorruptData)
		}
		defer gz.Close()
		src = gz
	}

	if _, err := io.Copy(w, &contextReader{ctx: ctx, r: src}); err != nil {
		if info.Compressed && isDecodeError(err) {
			return info, fmt.Errorf("%s: %w", info.LogicalName, ErrCorruptData)
		}
		return info, fmt.Errorf("stream %s: %w", info.LogicalName, err)
	}
	return info, nil
}

func isDecodeError(err error) bool {
	return errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) || errors.Is(err, io.ErrUnexpectedEOF)
}

// contextReader stops a transfer promptly when the request context is
// cancelled, e.g. on client disconnect.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
