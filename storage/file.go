// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists each key as one zstd-compressed file under a
// root directory. Snapshots are SDP-heavy and compress 3-4x, which
// matters for keys rewritten on every handshake mutation.
//
// Writes go through a temp file and rename, so a crash mid-write
// leaves the previous value intact.
type FileStore struct {
	root    string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileStore creates the root directory if needed and returns a
// FileStore over it.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", root, err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("storage: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("storage: zstd decoder: %w", err)
	}

	return &FileStore{root: root, encoder: encoder, decoder: decoder}, nil
}

func (s *FileStore) Get(key string) ([]byte, bool, error) {
	compressed, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: reading %s: %w", key, err)
	}

	value, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("storage: decompressing %s: %w", key, err)
	}
	return value, true, nil
}

func (s *FileStore) Set(key string, value []byte) error {
	compressed := s.encoder.EncodeAll(value, nil)

	target := s.path(key)
	temp, err := os.CreateTemp(s.root, ".write-*")
	if err != nil {
		return fmt.Errorf("storage: temp file for %s: %w", key, err)
	}
	tempName := temp.Name()

	if _, err := temp.Write(compressed); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("storage: closing %s: %w", key, err)
	}
	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("storage: renaming into %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: deleting %s: %w", key, err)
	}
	return nil
}

// path maps a key to a filename. Keys contain '/' (namespace
// separators), so they are path-escaped into a single flat component.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, url.PathEscape(key))
}
