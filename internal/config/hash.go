package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const (
	checksumFile     = ".checksums"
	manifestVersion  = 1
	manifestFileMode = 0o600
)

// ChecksumManifest is the on-disk .checksums document. It maps file names in
// the manifest's directory to their BLAKE3 hashes.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockReport describes one config lock.
type LockReport struct {
	ConfigPath   string
	ChecksumPath string
	Hash         string
	Written      bool
}

// ComputeBlake3Hash returns the hex BLAKE3-256 digest of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyFileHash checks a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expected string) error {
	actual, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s", filepath.Base(filePath), expected, actual)
	}
	return nil
}

// Lock records the hash of the config file at configPath in the .checksums
// manifest beside it. Entries for other files are kept. With dryRun the hash
// is computed but nothing is written.
func Lock(configPath string, dryRun bool) (*LockReport, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", configPath, err)
	}
	dir := filepath.Dir(abs)

	hash, err := ComputeBlake3Hash(abs)
	if err != nil {
		return nil, err
	}
	report := &LockReport{
		ConfigPath:   abs,
		ChecksumPath: filepath.Join(dir, checksumFile),
		Hash:         hash,
	}
	if dryRun {
		return report, nil
	}

	manifest, err := LoadChecksums(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		manifest = &ChecksumManifest{Hashes: map[string]string{}}
	case err != nil:
		return nil, err
	}
	manifest.Version = manifestVersion
	manifest.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	manifest.Hashes[filepath.Base(abs)] = hash

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode checksums: %w", err)
	}
	if err := os.WriteFile(report.ChecksumPath, data, manifestFileMode); err != nil {
		return nil, fmt.Errorf("write checksums: %w", err)
	}
	report.Written = true
	return report, nil
}

// LoadChecksums reads the .checksums manifest in dir. A missing manifest
// yields an error wrapping fs.ErrNotExist.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	path := filepath.Join(dir, checksumFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}

	var m ChecksumManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported checksums version %d in %s", m.Version, path)
	}
	if m.Hashes == nil {
		m.Hashes = map[string]string{}
	}
	return &m, nil
}
