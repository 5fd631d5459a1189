package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ManifestFilename is the external plugin manifest, expected alongside the
// plugins directory.
const ManifestFilename = "plugins.json"

// LoadManifest reads an external plugin manifest: an ordered JSON array of
// descriptors. A missing file yields (nil, nil) — external loading is
// optional. A file that exists but does not parse, or contains an invalid
// descriptor, is fatal: a truncated manifest is operator error that should
// surface immediately.
func LoadManifest(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newError(KindManifest, "", "", fmt.Sprintf("read manifest %s: %v", path, err), err)
	}

	var descriptors []Descriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, newError(KindManifest, "", "", fmt.Sprintf("parse manifest %s: %v", path, err), err)
	}

	baseDir := filepath.Dir(path)
	seen := make(map[string]int, len(descriptors))
	for i := range descriptors {
		if err := validateDescriptor(i, &descriptors[i], baseDir); err != nil {
			return nil, err
		}
		if prev, dup := seen[descriptors[i].Name]; dup {
			return nil, newError(KindManifest, descriptors[i].Name, "",
				fmt.Sprintf("manifest entries %d and %d share name %q", prev, i, descriptors[i].Name), nil)
		}
		seen[descriptors[i].Name] = i
	}

	return descriptors, nil
}

func validateDescriptor(i int, d *Descriptor, baseDir string) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Command = strings.TrimSpace(d.Command)

	if d.Name == "" {
		return newError(KindManifest, "", "", fmt.Sprintf("manifest entry %d: name is required", i), nil)
	}
	if d.Command == "" {
		return newError(KindManifest, d.Name, "", fmt.Sprintf("manifest entry %d: command is required", i), nil)
	}
	if d.Timeout != "" {
		t, err := time.ParseDuration(d.Timeout)
		if err != nil || t <= 0 {
			return newError(KindManifest, d.Name, "",
				fmt.Sprintf("manifest entry %d: invalid timeout %q", i, d.Timeout), err)
		}
	}
	if d.Dir != "" && !filepath.IsAbs(d.Dir) {
		d.Dir = filepath.Join(baseDir, d.Dir)
	}
	if d.Checksum != "" {
		if err := verifyCommandChecksum(d); err != nil {
			return err
		}
	}
	return nil
}

// verifyCommandChecksum pins the command binary to a blake3 hash declared in
// the manifest. Mismatch means the binary changed since the manifest was
// written, which is treated as tampering.
func verifyCommandChecksum(d *Descriptor) error {
	path := d.Command
	if !strings.ContainsRune(path, os.PathSeparator) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return newError(KindManifest, d.Name, "",
				fmt.Sprintf("checksum pinned but command %q not resolvable: %v", d.Command, err), err)
		}
		path = resolved
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return newError(KindManifest, d.Name, "",
			fmt.Sprintf("checksum pinned but command %q not readable: %v", path, err), err)
	}

	sum := blake3.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if !strings.EqualFold(actual, d.Checksum) {
		return newError(KindManifest, d.Name, "",
			fmt.Sprintf("checksum mismatch for %q: manifest has %s, binary is %s", path, d.Checksum, actual), nil)
	}
	return nil
}

// ChecksumFile computes the blake3 hex digest of a file, for generating
// manifest checksum pins.
func ChecksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
