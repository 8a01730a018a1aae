package ingestion

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SourceKind classifies a corpus source.
type SourceKind int

const (
	// KindFile is a local text file.
	KindFile SourceKind = iota
	// KindURL is an http(s) page fetched at build time.
	KindURL
)

// Source is one corpus input.
type Source struct {
	// Location is the file path or URL.
	Location string
	// Kind says how Location is read.
	Kind SourceKind
}

// corpusExtensions are the file types collected when a directory is given.
var corpusExtensions = []string{".txt", ".md", ".markdown"}

// ResolveSources expands command-line arguments into sources. URLs are
// kept as-is, directories are walked for text files in lexical order, and
// plain paths must exist.
func ResolveSources(args []string) ([]Source, error) {
	var out []Source
	for _, arg := range args {
		if isURL(arg) {
			out = append(out, Source{Location: arg, Kind: KindURL})
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("ingestion: source %s: %w", arg, err)
		}
		if !info.IsDir() {
			out = append(out, Source{Location: arg, Kind: KindFile})
			continue
		}
		var files []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if slices.Contains(corpusExtensions, strings.ToLower(filepath.Ext(path))) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ingestion: walk %s: %w", arg, err)
		}
		slices.Sort(files)
		for _, f := range files {
			out = append(out, Source{Location: f, Kind: KindFile})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ingestion: no corpus sources found")
	}
	return out, nil
}

// isURL reports whether s is an absolute http or https URL.
func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
