package patcher

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// backup is a pre-patch snapshot of one file. The snapshot lives next to
// the original with a unique suffix so that concurrent runs against
// different files cannot collide.
type backup struct {
	originalPath string
	backupPath   string
	mode         os.FileMode
}

// newBackup copies the file aside before any mutation.
func newBackup(path string) (*backup, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	backupPath := fmt.Sprintf("%s.bak.%s", path, uuid.New().String()[:8])
	if err := os.WriteFile(backupPath, content, info.Mode()); err != nil {
		return nil, fmt.Errorf("failed to write backup %s: %w", backupPath, err)
	}
	return &backup{
		originalPath: path,
		backupPath:   backupPath,
		mode:         info.Mode(),
	}, nil
}

// restore puts the snapshot back, byte for byte.
func (b *backup) restore() error {
	content, err := os.ReadFile(b.backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup %s: %w", b.backupPath, err)
	}
	if err := os.WriteFile(b.originalPath, content, b.mode); err != nil {
		return fmt.Errorf("failed to restore %s: %w", b.originalPath, err)
	}
	return b.discard()
}

// discard removes the snapshot once the outcome is settled.
func (b *backup) discard() error {
	if err := os.Remove(b.backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove backup %s: %w", b.backupPath, err)
	}
	return nil
}
