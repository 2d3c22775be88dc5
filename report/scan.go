// Package report lists and renders the failure bundles of an artifact directory, either
// as a static HTML index or served over HTTP.
package report

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/networkteam/uiharness/artifact"
)

// Bundle is a failure bundle found in an artifact directory.
type Bundle struct {
	// Test is the (sanitized) test directory name.
	Test      string
	Timestamp time.Time
	// Path is relative to the artifact directory, using forward slashes.
	Path string
	// Items are the captured items, Missing the items with a missing marker.
	Items   []string
	Missing []string
	// Outcome and Cause are read from the stack trace header.
	Outcome string
	Cause   string
}

// Complete reports whether every item was captured.
func (b Bundle) Complete() bool {
	return len(b.Missing) == 0
}

// Has reports whether item was captured.
func (b Bundle) Has(item string) bool {
	return slices.Contains(b.Items, item)
}

// ID identifies the bundle in URLs.
func (b Bundle) ID() string {
	return b.Path
}

// Scan returns all bundles below dir, newest first. A missing dir is not an error.
func Scan(dir string) ([]Bundle, error) {
	tests, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact directory: %w", err)
	}

	var bundles []Bundle
	for _, test := range tests {
		if !test.IsDir() {
			continue
		}
		runs, err := os.ReadDir(filepath.Join(dir, test.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading artifact directory: %w", err)
		}
		for _, run := range runs {
			if !run.IsDir() {
				continue
			}
			b, ok, err := readBundle(dir, test.Name(), run.Name())
			if err != nil {
				return nil, err
			}
			if ok {
				bundles = append(bundles, b)
			}
		}
	}

	slices.SortStableFunc(bundles, func(a, b Bundle) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return bundles, nil
}

// Find returns the bundle at the relative path id.
func Find(dir string, id string) (Bundle, bool, error) {
	parts := strings.Split(id, "/")
	if len(parts) != 2 || lo.Contains(parts, "..") || lo.Contains(parts, "") || lo.Contains(parts, ".") {
		return Bundle{}, false, nil
	}
	return readBundle(dir, parts[0], parts[1])
}

func readBundle(dir, test, run string) (Bundle, bool, error) {
	// Collisions get a numeric suffix, see artifact.Collector
	tsPart, _, _ := strings.Cut(run, "-")
	ts, err := time.Parse(artifact.TimestampFormat, tsPart)
	if err != nil {
		return Bundle{}, false, nil
	}

	bundleDir := filepath.Join(dir, test, run)
	entries, err := os.ReadDir(bundleDir)
	if errors.Is(err, fs.ErrNotExist) {
		return Bundle{}, false, nil
	}
	if err != nil {
		return Bundle{}, false, fmt.Errorf("reading bundle %s: %w", bundleDir, err)
	}
	names := lo.Map(entries, func(e os.DirEntry, _ int) string { return e.Name() })

	b := Bundle{
		Test:      test,
		Timestamp: ts,
		Path:      test + "/" + run,
	}
	for _, item := range artifact.Items {
		switch {
		case slices.Contains(names, item):
			b.Items = append(b.Items, item)
		case slices.Contains(names, item+artifact.MissingSuffix):
			b.Missing = append(b.Missing, item)
		}
	}
	if len(b.Items) == 0 && len(b.Missing) == 0 {
		return Bundle{}, false, nil
	}

	if b.Has(artifact.ItemStackTrace) {
		b.Outcome, b.Cause = readHeader(filepath.Join(bundleDir, artifact.ItemStackTrace))
	}
	return b, true, nil
}

// readHeader parses the "key: value" header of a stack trace file and the first line of
// the cause after it.
func readHeader(path string) (outcome string, cause string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	inHeader := true
	for scanner.Scan() {
		line := scanner.Text()
		if inHeader {
			if line == "" {
				inHeader = false
				continue
			}
			if v, ok := strings.CutPrefix(line, "outcome: "); ok {
				outcome = v
			}
			continue
		}
		if strings.TrimSpace(line) != "" {
			return outcome, strings.TrimSpace(line)
		}
	}
	return outcome, ""
}

// ReadItem returns the content of an item or, if it is missing, the capture error.
func ReadItem(dir string, b Bundle, item string) (content []byte, missing bool, err error) {
	if !lo.Contains(artifact.Items, item) {
		return nil, false, fmt.Errorf("unknown item %q", item)
	}
	base := filepath.Join(dir, filepath.FromSlash(b.Path), item)
	if slices.Contains(b.Missing, item) {
		content, err = os.ReadFile(base + artifact.MissingSuffix)
		return content, true, err
	}
	content, err = os.ReadFile(base)
	return content, false, err
}
