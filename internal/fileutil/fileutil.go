// Package fileutil holds the filesystem helpers shared by conflict detection
// and the encoder backends.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// Exists reports whether path exists. A stat failure other than "not exist"
// is returned as an error so callers can decide how to treat it.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// MoveFile puts src at dst, replacing dst. Across filesystems the data is
// copied to a temporary sibling of dst, verified, then renamed, so dst is
// never observed half written.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	tmp, err := copyBeside(src, dst)
	if err != nil {
		return fmt.Errorf("cross-device move: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cross-device move: %w", err)
	}
	return os.Remove(src)
}

// copyBeside copies src into a new temp file in dst's directory and checks
// the synced copy against the source digest. It returns the temp path.
func copyBeside(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return "", err
	}
	tmp := out.Name()
	fail := func(err error) (string, error) {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", err
	}

	srcSum := sha256.New()
	if _, err := io.Copy(out, io.TeeReader(in, srcSum)); err != nil {
		return fail(err)
	}
	if err := out.Sync(); err != nil {
		return fail(err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	dstSum := sha256.New()
	if _, err := io.Copy(dstSum, out); err != nil {
		return fail(err)
	}
	if !bytes.Equal(srcSum.Sum(nil), dstSum.Sum(nil)) {
		return fail(errors.New("copy verification failed: digests differ"))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}
