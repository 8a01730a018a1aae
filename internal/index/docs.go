package index

import (
	"fmt"
	"os"
	"strings"
)

// DocSeparator splits the documents file into per-position documents.
const DocSeparator = "\n---\n"

// LoadDocs reads the documents file at path. Document i corresponds to index
// position i. An empty file yields no documents.
func LoadDocs(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("index: read documents %s: %w", path, err)
	}
	return SplitDocs(string(b)), nil
}

// SplitDocs splits raw documents-file content on DocSeparator.
func SplitDocs(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, DocSeparator)
}

// WriteDocs writes docs to path joined by DocSeparator. A document
// containing the separator would shift every later position, so it is
// rejected.
func WriteDocs(path string, docs []string) error {
	for i, d := range docs {
		if strings.Contains(d, DocSeparator) {
			return fmt.Errorf("index: document %d contains the document separator", i)
		}
	}
	if err := os.WriteFile(path, []byte(strings.Join(docs, DocSeparator)), 0o644); err != nil {
		return fmt.Errorf("index: write documents %s: %w", path, err)
	}
	return nil
}
