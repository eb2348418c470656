// Package archive implements the booth's filesystem layout: a working
// directory holding the current session's images and name.txt, and an
// archive directory holding permanent timestamped copies.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// TimestampLayout formats session timestamps in file names and name.txt.
const TimestampLayout = "2006-01-02 15:04:05"

// MetadataFile is the per-session metadata file in the working directory.
const MetadataFile = "name.txt"

// Layout locates the working and archive directories.
type Layout struct {
	WorkingDir string
	ArchiveDir string
}

// CurrentPath returns the working-copy path for shot index (1-based).
func (l Layout) CurrentPath(index int) string {
	return filepath.Join(l.WorkingDir, strconv.Itoa(index)+".jpg")
}

// CurrentImages returns the working-copy paths for shots 1..n.
func (l Layout) CurrentImages(n int) []string {
	paths := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		paths = append(paths, l.CurrentPath(i))
	}
	return paths
}

// Prefix returns the archive filename prefix for a session started at t.
func (l Layout) Prefix(t time.Time) string {
	return filepath.Join(l.ArchiveDir, t.Format(TimestampLayout))
}

// ArchivePath returns prefix + "-" + index + ".jpg".
func ArchivePath(prefix string, index int) string {
	return prefix + "-" + strconv.Itoa(index) + ".jpg"
}

// Copy copies src to dst. It refuses to overwrite an existing dst so prior
// sessions are never clobbered.
func Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// WriteMetadata writes "Name: <timestamp>" to name.txt in the working
// directory.
func (l Layout) WriteMetadata(t time.Time) (string, error) {
	path := filepath.Join(l.WorkingDir, MetadataFile)
	data := "Name: " + t.Format(TimestampLayout)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ClearWorking deletes every entry in the working directory, leaving the
// directory itself in place.
func (l Layout) ClearWorking() error {
	entries, err := os.ReadDir(l.WorkingDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", l.WorkingDir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(l.WorkingDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
