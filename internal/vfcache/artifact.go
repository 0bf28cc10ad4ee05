package vfcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

const (
	artifactTimeLayout = "2006-01-02-15"
	artifactSuffix     = "_velocityfield.json.zst"
	tempSuffix         = ".tmp"
)

// artifactName encodes the covered window in the file name so the cache
// directory can be reconciled without a separate index.
func artifactName(start, end time.Time) string {
	return start.UTC().Format(artifactTimeLayout) + "_" + end.UTC().Format(artifactTimeLayout) + artifactSuffix
}

// parseArtifactName reverses artifactName. ok is false for foreign files.
func parseArtifactName(name string) (start, end time.Time, ok bool) {
	stem, found := strings.CutSuffix(name, artifactSuffix)
	if !found {
		return time.Time{}, time.Time{}, false
	}
	s, e, found := strings.Cut(stem, "_")
	if !found {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(artifactTimeLayout, s)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.Parse(artifactTimeLayout, e)
	if err != nil || !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// WriteArtifact stores w as zstd-compressed JSON. The file is written to a
// temporary name and renamed into place so readers never see partial data.
func WriteArtifact(path string, w *models.VelocityFieldWindow) (err error) {
	tmp := fmt.Sprintf("%s.%s%s", path, uuid.NewString(), tempSuffix)
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(w); err != nil {
		enc.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// ReadArtifact loads a velocity window. Files ending in .zst are
// zstd-compressed; anything else is read as plain JSON.
func ReadArtifact(path string) (*models.VelocityFieldWindow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".zst" {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var w models.VelocityFieldWindow
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", filepath.Base(path), err)
	}
	if err := checkShape(&w); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", filepath.Base(path), err)
	}
	return &w, nil
}

// checkShape verifies the arrays agree with the axes.
func checkShape(w *models.VelocityFieldWindow) error {
	nt, rows, cols := w.Shape()
	if nt == 0 || rows == 0 || cols == 0 {
		return errors.New("empty velocity field")
	}
	if len(w.Lon) != rows || len(w.U) != nt || len(w.V) != nt {
		return errors.New("axis length mismatch")
	}
	if w.Mask != nil && len(w.Mask) != nt {
		return errors.New("mask length mismatch")
	}
	for i := 0; i < rows; i++ {
		if len(w.Lat[i]) != cols || len(w.Lon[i]) != cols {
			return fmt.Errorf("grid row %d has wrong width", i)
		}
	}
	for k := 0; k < nt; k++ {
		if len(w.U[k]) != rows || len(w.V[k]) != rows {
			return fmt.Errorf("velocity step %d has wrong height", k)
		}
		for i := 0; i < rows; i++ {
			if len(w.U[k][i]) != cols || len(w.V[k][i]) != cols {
				return fmt.Errorf("velocity step %d row %d has wrong width", k, i)
			}
			if w.Mask != nil && (len(w.Mask[k]) != rows || len(w.Mask[k][i]) != cols) {
				return fmt.Errorf("mask step %d row %d has wrong shape", k, i)
			}
		}
	}
	if !w.End.After(w.Start) {
		return errors.New("window end is not after start")
	}
	return nil
}
