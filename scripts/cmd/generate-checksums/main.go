// Command generate-checksums writes SUMS files for release artifacts and,
// with -version, the release.json index served to sfeed's index fetcher.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/sfeed/internal/host/index"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/verify"
	"github.com/3leaps/sfeed/pkg/update"
)

type checksumJob struct {
	algo    string
	outFile string
}

type options struct {
	dir        string
	algos      string
	version    string
	baseURL    string
	prerelease bool
}

func main() {
	var o options
	flag.StringVar(&o.dir, "dir", "dist/release", "directory containing release artifacts")
	flag.StringVar(&o.algos, "algos", "sha256,sha512", "comma-separated list of hash algorithms (sha256, sha512)")
	flag.StringVar(&o.version, "version", "", "also write "+index.FileName+" for this version")
	flag.StringVar(&o.baseURL, "base-url", "", "prefix for asset URLs in the index (default: relative)")
	flag.BoolVar(&o.prerelease, "prerelease", false, "mark the indexed release as a prerelease")
	flag.Parse()

	if err := run(o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(o options, out io.Writer) error {
	dir := strings.TrimSpace(o.dir)
	if dir == "" {
		return errors.New("directory is required")
	}
	if err := ensureDir(dir); err != nil {
		return err
	}
	if o.version != "" {
		if err := update.Validate(o.version); err != nil {
			return err
		}
	}

	jobs, err := jobsFromAlgos(o.algos)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return errors.New("no hash algorithms specified")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	files := filterFiles(entries)
	if len(files) == 0 {
		return fmt.Errorf("no release artifacts found in %s", dir)
	}
	sort.Strings(files)

	for _, job := range jobs {
		if err := writeChecksums(dir, files, job); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%d entries)\n", filepath.Join(dir, job.outFile), len(files))
	}

	if o.version == "" {
		return nil
	}
	published := append([]string(nil), files...)
	for _, job := range jobs {
		published = append(published, job.outFile)
	}
	// signatures over the SUMS files are produced out of band; list them if present
	for _, job := range jobs {
		for _, suffix := range []string{".minisig", ".asc", ".sig"} {
			if _, err := os.Stat(filepath.Join(dir, job.outFile+suffix)); err == nil {
				published = append(published, job.outFile+suffix)
			}
		}
	}
	if err := writeIndex(dir, o, published); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d assets)\n", filepath.Join(dir, index.FileName), len(published))
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory %s not found", dir)
		}
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func jobsFromAlgos(list string) ([]checksumJob, error) {
	parts := strings.Split(list, ",")
	jobs := make([]checksumJob, 0, len(parts))
	seen := make(map[string]struct{})
	for _, raw := range parts {
		algo := strings.ToLower(strings.TrimSpace(raw))
		if algo == "" {
			continue
		}
		if _, ok := seen[algo]; ok {
			continue
		}
		switch algo {
		case "sha256":
			jobs = append(jobs, checksumJob{algo: algo, outFile: "SHA256SUMS"})
		case "sha512":
			jobs = append(jobs, checksumJob{algo: algo, outFile: "SHA2-512SUMS"})
		default:
			return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
		}
		seen[algo] = struct{}{}
	}
	return jobs, nil
}

func filterFiles(entries []os.DirEntry) []string {
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || skipFile(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	return files
}

func skipFile(name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "."):
		return true
	case verify.IsChecksumFile(name), verify.SignatureFormatFromExtension(name) != "":
		return true
	case lower == index.FileName, lower == "checksums.txt", lower == "checksum.txt":
		return true
	case strings.HasPrefix(lower, "release-notes"):
		return true
	}
	return false
}

func writeChecksums(dir string, files []string, job checksumJob) error {
	var b strings.Builder
	for _, name := range files {
		sum, err := verify.FileDigest(filepath.Join(dir, name), job.algo)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, name)
	}
	outPath := filepath.Join(dir, job.outFile)
	if err := os.WriteFile(outPath, []byte(b.String()), 0o644); err != nil { // #nosec G306 -- published release metadata
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}

func writeIndex(dir string, o options, files []string) error {
	version, _ := update.NormalizeVersion(o.version)
	doc := index.Document{Version: version, Prerelease: o.prerelease}
	base := strings.TrimRight(o.baseURL, "/")
	for _, name := range files {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		u := name
		if base != "" {
			u = base + "/" + name
		}
		doc.Assets = append(doc.Assets, model.Asset{Name: name, URL: u, Size: info.Size()})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	outPath := filepath.Join(dir, index.FileName)
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil { // #nosec G306 -- published release metadata
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}
