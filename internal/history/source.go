package history

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// MaxFileBytes caps how much of a workspace file the source will read.
const MaxFileBytes = 512 * 1024

// FileSource reads the current content of a workspace file by relative path.
type FileSource interface {
	ReadFile(path string) (string, error)
}

// WorkspaceSource reads files under Root from an afero filesystem.
type WorkspaceSource struct {
	fs   afero.Fs
	root string
}

// NewWorkspaceSource returns a FileSource rooted at root. Use
// afero.NewOsFs() in production and afero.NewMemMapFs() in tests.
func NewWorkspaceSource(fs afero.Fs, root string) *WorkspaceSource {
	return &WorkspaceSource{fs: fs, root: filepath.Clean(root)}
}

// ReadFile implements FileSource. Paths escaping the root are rejected.
func (s *WorkspaceSource) ReadFile(path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	info, err := s.fs.Stat(full)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileBytes {
		return "", fmt.Errorf("%s exceeds %d bytes", path, MaxFileBytes)
	}

	data, err := afero.ReadFile(s.fs, full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *WorkspaceSource) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(s.root, path)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the workspace", path)
	}
	return full, nil
}
