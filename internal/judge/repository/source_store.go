package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"judgecore/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

const (
	sourceKeyPrefix      = "submissions/"
	sourceContentType    = "application/zstd"
	maxSourceDecodeBytes = 8 << 20
)

// SourceStore archives submission sources as zstd blobs in object storage.
type SourceStore struct {
	storage storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewSourceStore(objects storage.ObjectStorage, bucket string) (*SourceStore, error) {
	if objects == nil {
		return nil, errors.New("object storage is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSourceDecodeBytes))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &SourceStore{storage: objects, bucket: bucket, encoder: encoder, decoder: decoder}, nil
}

// Save stores source for submissionID and returns the object key.
func (s *SourceStore) Save(ctx context.Context, submissionID, source string) (string, error) {
	if submissionID == "" {
		return "", errors.New("submissionID is required")
	}
	key := sourceKeyPrefix + submissionID + ".zst"
	blob := s.encoder.EncodeAll([]byte(source), nil)
	if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(blob), int64(len(blob)), sourceContentType); err != nil {
		return "", err
	}
	return key, nil
}

// Load reads and decompresses the source stored under key.
func (s *SourceStore) Load(ctx context.Context, key string) (string, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	blob, err := io.ReadAll(io.LimitReader(reader, maxSourceDecodeBytes))
	if err != nil {
		return "", fmt.Errorf("read source object: %w", err)
	}
	data, err := s.decoder.DecodeAll(blob, nil)
	if err != nil {
		return "", fmt.Errorf("decode source object: %w", err)
	}
	return string(data), nil
}
