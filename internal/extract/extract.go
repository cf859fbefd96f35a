// Package extract unpacks downloaded release archives.
package extract

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/sfeed/internal/model"
)

const (
	TypeZip    = "zip"
	TypeTarGz  = "tar.gz"
	TypeTarBz2 = "tar.bz2"
	TypeTar    = "tar"
)

// Extractor unpacks archives into a directory.
type Extractor interface {
	CanExtract(path string) bool
	Extract(path, dst string) error
}

// Archives extracts zip, tar, tar.gz and tar.bz2 files.
type Archives struct{}

// ArchiveTypeFromName returns the archive type implied by a file name, or "".
func ArchiveTypeFromName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return TypeZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return TypeTarGz
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"), strings.HasSuffix(lower, ".tbz"):
		return TypeTarBz2
	case strings.HasSuffix(lower, ".tar"):
		return TypeTar
	default:
		return ""
	}
}

// TrimArchiveExt strips a known archive extension from name.
func TrimArchiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tar.bz2", ".tgz", ".tbz2", ".tbz", ".tar", ".zip"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// sniff identifies an archive by its leading bytes.
func sniff(path string) string {
	// #nosec G304 -- path is a downloaded asset inside the release directory
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		return TypeZip
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return TypeTarGz
	case bytes.HasPrefix(head, []byte("BZh")):
		return TypeTarBz2
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return TypeTar
	default:
		return ""
	}
}

func detect(path string) string {
	if t := ArchiveTypeFromName(path); t != "" {
		return t
	}
	return sniff(path)
}

func (Archives) CanExtract(path string) bool {
	return detect(path) != ""
}

// Extract unpacks path into dst. Entries escaping dst are rejected.
func (Archives) Extract(path, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return model.Wrap(model.ErrFilesystem, "extract "+path, err)
	}
	var err error
	switch detect(path) {
	case TypeZip:
		err = extractZip(path, dst)
	case TypeTarGz, TypeTarBz2, TypeTar:
		err = extractTar(path, dst)
	default:
		return model.Errorf(model.ErrParse, "extract "+path, "unsupported archive format")
	}
	if err != nil {
		return model.Wrap(model.ErrFilesystem, "extract "+path, err)
	}
	return nil
}

func safeJoin(dst, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(name, "/") || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", model.Errorf(model.ErrParse, "extract", "entry %q escapes destination", name)
	}
	return filepath.Join(dst, clean), nil
}

func extractTar(path, dst string) error {
	// #nosec G304 -- path is a downloaded asset inside the release directory
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	switch sniff(path) {
	case TypeTarGz:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gr.Close()
		r = gr
	case TypeTarBz2:
		r = bzip2.NewReader(r)
	}

	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return model.Wrap(model.ErrParse, "extract", err)
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dst, h.Name)
		if err != nil {
			return err
		}
		if err := checkParents(dst, target); err != nil {
			return err
		}
		mode := h.FileInfo().Mode()
		switch h.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, mode.Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkLink(dst, target, h.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(h.Linkname, target); err != nil {
				return err
			}
		default:
			// hard links, devices and fifos are not part of app bundles
		}
	}
}

func extractZip(path, dst string) error {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		return model.Wrap(model.ErrParse, "extract", err)
	}
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, err := safeJoin(dst, zf.Name)
		if err != nil {
			return err
		}
		if err := checkParents(dst, target); err != nil {
			return err
		}
		mode := zf.Mode()
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		if mode&os.ModeSymlink != 0 {
			link, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return err
			}
			if err := checkLink(dst, target, string(link)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(string(link), target); err != nil {
				return err
			}
			continue
		}
		err = writeFile(target, rc, mode.Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func checkLink(dst, target, link string) error {
	if filepath.IsAbs(link) {
		return model.Errorf(model.ErrParse, "extract", "symlink %q is absolute", link)
	}
	resolved := filepath.Join(filepath.Dir(target), link)
	rel, err := filepath.Rel(dst, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return model.Errorf(model.ErrParse, "extract", "symlink %q escapes destination", link)
	}
	return nil
}

// checkParents refuses entries whose parent chain below dst runs through a
// symlink. Earlier entries may have planted links that only look safe
// lexically.
func checkParents(dst, target string) error {
	rel, err := filepath.Rel(dst, filepath.Dir(target))
	if err != nil {
		return model.Wrap(model.ErrParse, "extract", err)
	}
	if rel == "." {
		return nil
	}
	cur := dst
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return model.Errorf(model.ErrParse, "extract", "entry %q is below symlink %q", target, cur)
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// never write through a link left by an earlier entry
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	if perm == 0 {
		perm = 0o644
	}
	// #nosec G304 -- target validated by safeJoin and checkParents
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}
