package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadList reads the watch list document. Unlike memory, a missing or broken
// watch list is a hard error: a cycle without sites has nothing to do and
// silently watching nothing would look like success.
func LoadList(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watch list: %w", err)
	}
	var list List
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse watch list: %w", err)
	}
	list.Sites = cleanEntries(list.Sites)
	list.Keywords = cleanEntries(list.Keywords)
	if len(list.Sites) == 0 {
		return nil, fmt.Errorf("watch list has no sites")
	}
	return &list, nil
}

// cleanEntries trims entries and drops empty ones, preserving order.
func cleanEntries(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
