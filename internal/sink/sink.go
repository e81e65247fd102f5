// Package sink persists assembled audio to stdout, a local file or object storage.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agleyzer/hlsaudio/internal/source"
	"github.com/agleyzer/hlsaudio/internal/storage"
	"github.com/minio/minio-go/v7"
)

// Sink receives the output of one conversion. Close commits it and Abort
// discards it; after either, the sink must not be used.
type Sink interface {
	io.Writer
	Close() error
	Abort() error
}

// Uploader stores objects. *minio.Client implements it.
type Uploader interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Options configures Open.
type Options struct {
	// Stdout receives output for the "-" target
	Stdout io.Writer
	// Objects serves s3:// targets when non-nil
	Objects Uploader
	// ContentType is set on uploaded objects
	ContentType string
}

// Open returns the sink for target: "-" or "" for stdout, s3://bucket/key for
// object storage, and a local path otherwise.
func Open(ctx context.Context, target string, opts Options) (Sink, error) {
	switch {
	case target == "" || target == "-":
		out := opts.Stdout
		if out == nil {
			out = os.Stdout
		}
		return &writerSink{w: out}, nil
	case source.Scheme(target) == storage.Scheme:
		if opts.Objects == nil {
			return nil, fmt.Errorf("cannot write %s: object storage not configured", target)
		}
		bucket, key, err := storage.ParseLocation(target)
		if err != nil {
			return nil, err
		}
		return &objectSink{
			ctx:         ctx,
			uploader:    opts.Objects,
			bucket:      bucket,
			key:         key,
			contentType: opts.ContentType,
		}, nil
	default:
		return newFileSink(target)
	}
}

// Write stores data at target in one step, aborting on failure.
func Write(ctx context.Context, target string, data []byte, opts Options) error {
	s, err := Open(ctx, target, opts)
	if err != nil {
		return err
	}

	if _, err := s.Write(data); err != nil {
		_ = s.Abort()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", target, err)
	}
	return nil
}

type writerSink struct {
	w io.Writer
}

func (s *writerSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *writerSink) Close() error                { return nil }
func (s *writerSink) Abort() error                { return nil }

// FileMode is the permission of files written by the file sink.
const FileMode os.FileMode = 0o644

// fileSink writes to a temporary file next to the target and renames it on Close.
type fileSink struct {
	f      *os.File
	target string
}

func newFileSink(target string) (*fileSink, error) {
	dir := filepath.Dir(target)
	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &fileSink{f: f, target: target}, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *fileSink) Close() error {
	// CreateTemp opens with 0600
	if err := s.f.Chmod(FileMode); err != nil {
		s.f.Close()
		os.Remove(s.f.Name())
		return err
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.f.Name())
		return err
	}
	if err := os.Rename(s.f.Name(), s.target); err != nil {
		os.Remove(s.f.Name())
		return err
	}
	return nil
}

func (s *fileSink) Abort() error {
	s.f.Close()
	return os.Remove(s.f.Name())
}

// objectSink buffers output and uploads it on Close.
type objectSink struct {
	ctx         context.Context
	uploader    Uploader
	bucket      string
	key         string
	contentType string
	buf         bytes.Buffer
}

func (s *objectSink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *objectSink) Close() error {
	_, err := s.uploader.PutObject(s.ctx, s.bucket, s.key, bytes.NewReader(s.buf.Bytes()), int64(s.buf.Len()), minio.PutObjectOptions{
		ContentType: s.contentType,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func (s *objectSink) Abort() error {
	s.buf.Reset()
	return nil
}
