package builtin

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pistonhq/piston/internal/engine"
)

// Filesystem exposes read-only access to files under base. Payload paths are
// relative to base; anything that resolves outside it is rejected.
func Filesystem(base string) *engine.Plugin {
	root, err := filepath.Abs(base)
	if err != nil {
		root = base
	}
	fs := &fsActions{root: root}
	return &engine.Plugin{
		Name: "filesystem",
		Actions: map[string]engine.ActionFunc{
			"list": fs.list,
			"read": fs.read,
		},
	}
}

type fsActions struct {
	root string
}

// resolve joins rel onto the root and rejects any path that escapes it.
func (f *fsActions) resolve(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	candidate := filepath.Join(f.root, rel)
	back, err := filepath.Rel(f.root, candidate)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", errors.New("path outside of allowed base")
	}
	return candidate, nil
}

func (f *fsActions) list(ctx context.Context, payload any, pc *engine.Context) (any, error) {
	p := payloadObject(payload)
	target, err := f.resolve(stringField(p, "path"))
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("not found")
		}
		return nil, errors.New("not a directory")
	}

	entries := make([]map[string]any, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, map[string]any{
			"name":   de.Name(),
			"is_dir": de.IsDir(),
			"size":   info.Size(),
		})
	}
	return map[string]any{"entries": entries}, nil
}

func (f *fsActions) read(ctx context.Context, payload any, pc *engine.Context) (any, error) {
	p := payloadObject(payload)
	target, err := f.resolve(stringField(p, "path"))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return nil, errors.New("file not found")
	}

	fh, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer fh.Close()

	if offset := intField(p, "offset"); offset > 0 {
		if _, err := fh.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek: %w", err)
		}
	}

	var r io.Reader = fh
	if length := intField(p, "length"); length > 0 {
		r = io.LimitReader(fh, length)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	// Base64 keeps binary content JSON-safe.
	return map[string]any{"content_b64": base64.StdEncoding.EncodeToString(content)}, nil
}

func payloadObject(payload any) map[string]any {
	m, _ := payload.(map[string]any)
	return m
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
