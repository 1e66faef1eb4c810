package toml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	ServersPathKey = "cache.servers_path"
	KernelsPathKey = "cache.kernels_path"

	cacheFileMode   = 0o600
	cacheDirMode    = 0o700
	cacheConfigDir  = ".jem"
	serversFileName = "servers.toml"
	kernelsFileName = "kernels.toml"
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

// cacheFile is the on-disk plumbing shared by both caches.
type cacheFile struct {
	path  string
	label string
	mu    *sync.RWMutex
}

func newCacheFile(cfg *viper.Viper, key, fileName, label string) (cacheFile, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := cfg.GetString(key)
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return cacheFile{}, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(homeDir, cacheConfigDir, fileName)
	}

	path, err := normalizePath(path)
	if err != nil {
		return cacheFile{}, err
	}

	return cacheFile{path: path, label: label, mu: lockForPath(path)}, nil
}

func (f cacheFile) Path() string {
	return f.path
}

// read decodes the file into out; a missing file leaves out untouched.
func (f cacheFile) read(out any) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s file: %w", f.label, err)
	}

	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s file: %w", f.label, err)
	}

	return nil
}

func (f cacheFile) write(in any) error {
	if err := os.MkdirAll(filepath.Dir(f.path), cacheDirMode); err != nil {
		return fmt.Errorf("create %s directory: %w", f.label, err)
	}

	data, err := toml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s file: %w", f.label, err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(f.path), "."+f.label+"-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp %s file: %w", f.label, err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp %s file: %w", f.label, err)
	}

	if err := tempFile.Chmod(cacheFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp %s file: %w", f.label, err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp %s file: %w", f.label, err)
	}

	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("replace %s file: %w", f.label, err)
	}

	cleanup = false

	return nil
}

func normalizePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve cache path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}
