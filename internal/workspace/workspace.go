// ABOUTME: Workspace-isolation collaborator interface and local-directory implementation
// ABOUTME: Consulted before a session's first message to decide on isolation prompts

package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Manager abstracts workspace directory operations. The session core consults
// it only to validate working directories on resume and to create or remove
// isolated workspaces when the user opts in.
type Manager interface {
	DirExists(path string) bool
	CreateIsolated(ctx context.Context, base, name string) (string, error)
	RemoveIsolated(ctx context.Context, path string) error
}

// Local implements Manager against the local filesystem.
type Local struct{}

func (Local) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CreateIsolated creates an isolated workspace directory under base.
func (Local) CreateIsolated(_ context.Context, base, name string) (string, error) {
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating isolated workspace: %w", err)
	}
	return dir, nil
}

// RemoveIsolated deletes an isolated workspace directory.
func (Local) RemoveIsolated(_ context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing isolated workspace: %w", err)
	}
	return nil
}
