package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/ulikunitz/xz"

	"github.com/dshills/vbuf/internal/config"
	"github.com/dshills/vbuf/internal/engine/persist"
)

// openStore builds the configured backend, seeding it from seedPath when
// one is given.
func openStore(cfg *config.Config, seedPath string) (persist.Store, error) {
	var seed []byte
	if seedPath != "" {
		data, err := readFile(seedPath)
		if err != nil {
			return nil, err
		}
		seed = data
	}

	switch cfg.Store.Backend {
	case config.BackendSQLite:
		s, err := persist.OpenSQLite(cfg.Store.Path,
			persist.WithChunkSize(cfg.Store.ChunkSize),
			persist.WithInitialContent(seed),
		)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", cfg.Store.Path, err)
		}
		return s, nil
	default:
		return persist.NewMemoryStore(seed), nil
	}
}

func isXZ(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".xz")
}

// readFile reads path, decompressing it if it ends in .xz.
func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if isXZ(path) {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		r = xr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// writeFile atomically replaces path with data, compressing it if the
// path ends in .xz.
func writeFile(path string, data []byte) error {
	payload := data
	if isXZ(path) {
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}
		payload = buf.Bytes()
	}

	if err := atomic.WriteFile(path, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
