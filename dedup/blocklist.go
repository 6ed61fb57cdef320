package dedup

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Blocklist is an externally maintained set of candidate IDs never to publish.
// A nil Blocklist blocks nothing.
type Blocklist struct {
	ids map[string]struct{}
}

// NewBlocklist builds a blocklist from ids. Blank entries are ignored.
func NewBlocklist(ids ...string) *Blocklist {
	b := &Blocklist{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			b.ids[id] = struct{}{}
		}
	}
	return b
}

// LoadBlocklist reads a blocklist file. Files ending in .yaml or .yml hold
// either a list of IDs or a mapping with an "ids" list; any other file is
// read as one ID per line with "#" comments. A missing file is an empty list.
func LoadBlocklist(path string) (*Blocklist, error) {
	if path == "" {
		return NewBlocklist(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewBlocklist(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blocklist: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLBlocklist(data)
	default:
		return parseTextBlocklist(data), nil
	}
}

func parseYAMLBlocklist(data []byte) (*Blocklist, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewBlocklist(), nil
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return NewBlocklist(list...), nil
	}
	var doc struct {
		IDs []string `yaml:"ids"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse blocklist: %w", err)
	}
	return NewBlocklist(doc.IDs...), nil
}

func parseTextBlocklist(data []byte) *Blocklist {
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		ids = append(ids, line)
	}
	return NewBlocklist(ids...)
}

// Contains reports whether id is blocked.
func (b *Blocklist) Contains(id string) bool {
	if b == nil {
		return false
	}
	_, ok := b.ids[id]
	return ok
}

// Len returns the number of blocked IDs.
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ids)
}
