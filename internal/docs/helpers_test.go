package docs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readRepoFile(t *testing.T, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{"..", ".."}, parts...)...)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read repo file %s: %v", filepath.Join(parts...), err)
	}
	return string(raw)
}

func asMap(v any) (map[string]any, bool) {
	casted, ok := v.(map[string]any)
	return casted, ok
}

func asStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, val := range raw {
		text, ok := val.(string)
		if !ok {
			continue
		}
		out = append(out, text)
	}
	return out
}

func contains(items []string, item string) bool {
	for _, candidate := range items {
		if candidate == item {
			return true
		}
	}
	return false
}

func containsSubstring(items []string, needle string) bool {
	for _, value := range items {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
