// Package patcher swaps host applications' resolver binaries for the
// forwarding stub and puts the originals back.
package patcher

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	ErrToolDirNotFound = errors.New("tool directory not found, application may not be installed")
	ErrNoStub          = errors.New("stub binary is empty")
)

// Target is one intercepted resolver binary
type Target struct {
	Name     string
	ToolPath string
}

// BackupPath is where the original binary is kept while patched
func (t Target) BackupPath() string {
	return t.ToolPath + ".bkp"
}

// Patcher handles stub installation for any number of targets
type Patcher struct {
	stubData []byte
	stubHash string
	logger   *slog.Logger
}

// NewPatcher creates a new patcher
func NewPatcher(stubData []byte, logger *slog.Logger) *Patcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Patcher{
		stubData: stubData,
		stubHash: ComputeHash(stubData),
		logger:   logger.With("component", "patcher"),
	}
}

// Hash returns the content hash of the stub
func (p *Patcher) Hash() string {
	return p.stubHash
}

// Patch backs up the target's binary and installs the stub read-only.
// A target that already holds the stub is left alone.
func (p *Patcher) Patch(t Target) error {
	if len(p.stubData) == 0 {
		return ErrNoStub
	}

	if _, err := os.Stat(filepath.Dir(t.ToolPath)); err != nil {
		return fmt.Errorf("%w: %s", ErrToolDirNotFound, filepath.Dir(t.ToolPath))
	}

	if data, err := os.ReadFile(t.ToolPath); err == nil {
		if ComputeHash(data) == p.stubHash {
			p.logger.Info("already patched", "target", t.Name)
			return nil
		}

		if _, err := os.Stat(t.BackupPath()); err == nil {
			makeWritable(t.BackupPath())
			if err := os.Remove(t.BackupPath()); err != nil {
				return fmt.Errorf("failed to remove stale backup: %w", err)
			}
		}

		if err := os.Rename(t.ToolPath, t.BackupPath()); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		p.logger.Info("backed up original", "target", t.Name, "backup", t.BackupPath())
	}

	if err := os.WriteFile(t.ToolPath, p.stubData, 0755); err != nil {
		return fmt.Errorf("failed to write stub: %w", err)
	}

	if err := makeReadOnly(t.ToolPath); err != nil {
		return fmt.Errorf("failed to make read-only: %w", err)
	}

	p.logger.Info("stub installed", "target", t.Name, "path", t.ToolPath)
	return nil
}

// Restore puts the backed up binary back. Without a backup it does nothing.
func (p *Patcher) Restore(t Target) error {
	if _, err := os.Stat(t.BackupPath()); err != nil {
		return nil
	}

	p.logger.Info("restoring original", "target", t.Name)

	if _, err := os.Stat(t.ToolPath); err == nil {
		if err := makeWritable(t.ToolPath); err != nil {
			return fmt.Errorf("failed to make writable: %w", err)
		}
		if err := os.Remove(t.ToolPath); err != nil {
			return fmt.Errorf("failed to remove stub: %w", err)
		}
	}

	if err := os.Rename(t.BackupPath(), t.ToolPath); err != nil {
		return fmt.Errorf("failed to restore original: %w", err)
	}

	if err := makeWritable(t.ToolPath); err != nil {
		return fmt.Errorf("failed to make writable: %w", err)
	}

	return nil
}

// RestoreAll restores every target, continuing past failures
func (p *Patcher) RestoreAll(targets []Target) error {
	var errs []error
	for _, t := range targets {
		if err := p.Restore(t); err != nil {
			p.logger.Error("restore failed", "target", t.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// IsPatched checks if the target currently holds the stub
func (p *Patcher) IsPatched(t Target) (bool, error) {
	data, err := os.ReadFile(t.ToolPath)
	if err != nil {
		return false, err
	}
	return ComputeHash(data) == p.stubHash, nil
}

// ComputeHash is base64(SHA-256(data))
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(hash[:])
}

// makeReadOnly drops write permission, keeping the stub executable
func makeReadOnly(path string) error {
	return os.Chmod(path, 0555)
}

func makeWritable(path string) error {
	return os.Chmod(path, 0755)
}
