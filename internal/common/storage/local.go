package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps objects as files under root/bucket/key.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root failed: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

func (s *LocalStorage) path(bucket, objectKey string) (string, error) {
	if bucket == "" || objectKey == "" {
		return "", fmt.Errorf("bucket and objectKey are required")
	}
	clean := filepath.Clean("/" + objectKey)
	if strings.Contains(bucket, "/") || strings.Contains(bucket, "..") {
		return "", fmt.Errorf("invalid bucket: %s", bucket)
	}
	return filepath.Join(s.root, bucket, clean), nil
}

func (s *LocalStorage) PutObject(_ context.Context, bucket, objectKey string, reader io.Reader, _ int64, _ string) error {
	if reader == nil {
		return fmt.Errorf("reader is required")
	}
	target, err := s.path(bucket, objectKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir failed: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object failed: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write object failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object failed: %w", err)
	}
	return os.Rename(tmp.Name(), target)
}

func (s *LocalStorage) GetObject(_ context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	target, err := s.path(bucket, objectKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object failed: %w", err)
	}
	return f, nil
}

func (s *LocalStorage) StatObject(_ context.Context, bucket, objectKey string) (ObjectStat, error) {
	target, err := s.path(bucket, objectKey)
	if err != nil {
		return ObjectStat{}, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectStat{}, ErrObjectNotFound
		}
		return ObjectStat{}, fmt.Errorf("stat object failed: %w", err)
	}
	sum := md5.Sum(data)
	return ObjectStat{SizeBytes: int64(len(data)), ETag: hex.EncodeToString(sum[:])}, nil
}

func (s *LocalStorage) RemoveObject(_ context.Context, bucket, objectKey string) error {
	target, err := s.path(bucket, objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object failed: %w", err)
	}
	return nil
}
