// Package storage provides sandboxed file operations for ttshub.
// All artifact reads and writes are restricted to configured directories so
// request-supplied paths can never escape the output tree.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox roots all file operations at a base directory. Relative paths
// are the only currency; anything that would resolve outside the root is
// rejected before it touches the filesystem.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a Sandbox rooted at baseDir, creating it if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Sandbox{baseDir: abs}, nil
}

// BaseDir returns the absolute sandbox root.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath maps a relative path to its absolute location, rejecting
// absolute inputs and any traversal that would leave the root.
func (s *Sandbox) ResolvePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path escapes sandbox: %s (absolute paths not allowed)", rel)
	}

	abs, err := filepath.Abs(filepath.Join(s.baseDir, filepath.Clean(rel)))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	if abs != s.baseDir && !strings.HasPrefix(abs, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes sandbox: %s", rel)
	}
	return abs, nil
}

// prepared resolves rel and makes sure its parent directory exists, so
// the caller can immediately create the file.
func (s *Sandbox) prepared(rel string) (string, error) {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}
	return abs, nil
}

// Exists reports whether rel names an existing file or directory.
func (s *Sandbox) Exists(rel string) (bool, error) {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// Stat returns file info for rel.
func (s *Sandbox) Stat(rel string) (os.FileInfo, error) {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	return info, nil
}

// Size returns the byte size of the file at rel.
func (s *Sandbox) Size(rel string) (int64, error) {
	info, err := s.Stat(rel)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MkdirAll creates rel and any missing parents.
func (s *Sandbox) MkdirAll(rel string) error {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// WriteFile writes data to rel, creating parent directories as needed.
func (s *Sandbox) WriteFile(rel string, data []byte) error {
	abs, err := s.prepared(rel)
	if err != nil {
		return err
	}
	if err := os.WriteFile(abs, data, 0640); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// ReadFile reads the file at rel.
func (s *Sandbox) ReadFile(rel string) ([]byte, error) {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// OpenFile opens rel with the given flags; write-mode opens get their
// parent directory created first.
func (s *Sandbox) OpenFile(rel string, flag int, perm os.FileMode) (*os.File, error) {
	var abs string
	var err error
	if flag&(os.O_CREATE|os.O_WRONLY|os.O_RDWR) != 0 {
		abs, err = s.prepared(rel)
	} else {
		abs, err = s.ResolvePath(rel)
	}
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(abs, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// Remove removes the file or empty directory at rel.
func (s *Sandbox) Remove(rel string) error {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// RemoveAll removes rel and everything under it. The root itself is off
// limits.
func (s *Sandbox) RemoveAll(rel string) error {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return err
	}
	if abs == s.baseDir {
		return fmt.Errorf("cannot remove sandbox base directory")
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// Rename moves a file to a new relative location inside the sandbox.
func (s *Sandbox) Rename(oldRel, newRel string) error {
	oldAbs, err := s.ResolvePath(oldRel)
	if err != nil {
		return fmt.Errorf("resolving old path: %w", err)
	}
	newAbs, err := s.prepared(newRel)
	if err != nil {
		return fmt.Errorf("resolving new path: %w", err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// stage fills a hidden temp file next to target and renames it into
// place, so readers only ever observe complete files. The temp file is
// removed on any failure.
func stage(target string, fill func(*os.File) error) error {
	tmp := filepath.Join(filepath.Dir(target),
		fmt.Sprintf(".%s.%s.tmp", filepath.Base(target), randomHex(8)))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	fillErr := fill(f)
	closeErr := f.Close()
	if fillErr == nil {
		fillErr = closeErr
	}
	if fillErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing temporary file: %w", fillErr)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

// AtomicWrite writes data to rel via a temp-file rename, so a crash or
// concurrent reader never sees a partial file.
func (s *Sandbox) AtomicWrite(rel string, data []byte) error {
	abs, err := s.prepared(rel)
	if err != nil {
		return err
	}
	return stage(abs, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// AtomicWriteReader streams r into rel with the same staging as
// AtomicWrite.
func (s *Sandbox) AtomicWriteReader(rel string, r io.Reader) error {
	abs, err := s.prepared(rel)
	if err != nil {
		return err
	}
	return stage(abs, func(f *os.File) error {
		_, err := io.Copy(f, r)
		return err
	})
}

// AtomicPublish moves a file from an external absolute path into the
// sandbox. Engine runners and yt-dlp write to system temp locations;
// this is how their outputs enter the tree. Rename is tried first and a
// staged copy covers the cross-filesystem case.
func (s *Sandbox) AtomicPublish(srcAbs, destRel string) error {
	target, err := s.prepared(destRel)
	if err != nil {
		return err
	}

	if err := os.Rename(srcAbs, target); err == nil {
		return nil
	}

	src, err := os.Open(srcAbs)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	if err := stage(target, func(f *os.File) error {
		_, err := io.Copy(f, src)
		return err
	}); err != nil {
		return err
	}

	// The source survived the copy path; drop it.
	_ = os.Remove(srcAbs)
	return nil
}

// CreateTemp creates a scratch file under dir (default "temp"). The
// caller owns closing and removing it.
func (s *Sandbox) CreateTemp(dir, pattern string) (*os.File, error) {
	if dir == "" {
		dir = "temp"
	}
	abs, err := s.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	file, err := os.CreateTemp(abs, pattern)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return file, nil
}

// List returns the directory entries at rel.
func (s *Sandbox) List(rel string) ([]os.DirEntry, error) {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	return entries, nil
}

// Glob returns paths matching pattern, relative to the sandbox root.
// The pattern itself must be relative.
func (s *Sandbox) Glob(pattern string) ([]string, error) {
	if filepath.IsAbs(pattern) {
		return nil, fmt.Errorf("pattern escapes sandbox: %s (absolute patterns not allowed)", pattern)
	}

	matches, err := filepath.Glob(filepath.Join(s.baseDir, filepath.Clean(pattern)))
	if err != nil {
		return nil, fmt.Errorf("globbing: %w", err)
	}

	rels := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(s.baseDir, m)
		if err != nil {
			continue
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// Walk walks the tree under rel, handing the callback sandbox-relative
// paths.
func (s *Sandbox) Walk(rel string, fn filepath.WalkFunc) error {
	abs, err := s.ResolvePath(rel)
	if err != nil {
		return err
	}
	return filepath.Walk(abs, func(walkPath string, info os.FileInfo, err error) error {
		relPath, relErr := filepath.Rel(s.baseDir, walkPath)
		if relErr != nil {
			relPath = walkPath
		}
		return fn(relPath, info, err)
	})
}

// randomHex returns n hex characters of randomness for temp-file names.
func randomHex(n int) string {
	buf := make([]byte, n/2+1)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(buf)[:n]
}
