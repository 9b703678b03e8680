package wordlist

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed api_paths.txt
var embeddedPaths string

// DefaultVersions are substituted for %VER% placeholders.
var DefaultVersions = []string{"v1", "v2", "v3"}

// Load returns the API paths to seed a bare-target scan with. If path is
// empty, the embedded list is used. Entries containing %VER% are expanded
// once per version and once without the version segment.
func Load(path string, versions []string) ([]string, error) {
	raw := embeddedPaths
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading wordlist %s: %w", path, err)
		}
		raw = string(data)
	}

	lines := strings.Split(raw, "\n")
	seen := make(map[string]struct{}, len(lines))
	var result []string

	add := func(entry string) {
		entry = strings.Trim(entry, "/")
		if entry == "" {
			return
		}
		if _, ok := seen[entry]; !ok {
			seen[entry] = struct{}{}
			result = append(result, entry)
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.Contains(line, "%VER%") {
			for _, v := range versions {
				add(strings.ReplaceAll(line, "%VER%", v))
			}
			// Also add the bare version without the version segment.
			bare := strings.ReplaceAll(line, "/%VER%", "")
			bare = strings.ReplaceAll(bare, "%VER%/", "")
			bare = strings.ReplaceAll(bare, "%VER%", "")
			add(bare)
		} else {
			add(line)
		}
	}

	return result, nil
}

// Seeds joins each path onto baseURL.
func Seeds(baseURL string, paths []string) []string {
	base := strings.TrimRight(baseURL, "/")
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, base+"/"+strings.TrimLeft(p, "/"))
	}
	return out
}

// ReadLines returns the de-duplicated, non-empty, non-comment lines of r in
// their original order. It is used for candidate URL lists.
func ReadLines(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var result []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; !ok {
			seen[line] = struct{}{}
			result = append(result, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading lines: %w", err)
	}
	return result, nil
}

// ReadFile is ReadLines over the file at path.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadLines(f)
}
