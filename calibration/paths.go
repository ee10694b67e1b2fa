package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MapKey identifies an efficiency map directory.
type MapKey struct {
	Geometry          Geometry
	LightDistribution string
}

func (k MapKey) String() string {
	return fmt.Sprintf("%s/%s", k.Geometry, k.LightDistribution)
}

// RepositoryPaths locates calibration documents and efficiency map directories. A value is
// passed to every loader and stage that needs it; nothing is kept in package state.
type RepositoryPaths struct {
	mu        sync.RWMutex
	configDir string
	mapDirs   map[MapKey]string
}

// NewRepositoryPaths returns paths rooted at configDir.
func NewRepositoryPaths(configDir string) *RepositoryPaths {
	return &RepositoryPaths{configDir: configDir, mapDirs: map[MapKey]string{}}
}

// ConfigDir returns the directory relative document names are resolved against.
func (p *RepositoryPaths) ConfigDir() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configDir
}

// SetConfigDir changes the configuration directory.
func (p *RepositoryPaths) SetConfigDir(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configDir = dir
}

// Resolve returns the full path of a calibration document.
func (p *RepositoryPaths) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.ConfigDir(), name)
}

// RegisterMapDir records the efficiency map directory for a geometry and light distribution.
func (p *RepositoryPaths) RegisterMapDir(geometry Geometry, lightDistribution, dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mapDirs[MapKey{Geometry: geometry, LightDistribution: strings.ToLower(lightDistribution)}] = dir
}

// MapDir looks up an efficiency map directory.
func (p *RepositoryPaths) MapDir(geometry Geometry, lightDistribution string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dir, ok := p.mapDirs[MapKey{Geometry: geometry, LightDistribution: strings.ToLower(lightDistribution)}]
	return dir, ok
}

// MapDirExists reports whether the registered map directory is present on disk.
func (p *RepositoryPaths) MapDirExists(geometry Geometry, lightDistribution string) bool {
	dir, ok := p.MapDir(geometry, lightDistribution)
	if !ok {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// MapKeys returns every registered key.
func (p *RepositoryPaths) MapKeys() []MapKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]MapKey, 0, len(p.mapDirs))
	for k := range p.mapDirs {
		keys = append(keys, k)
	}
	return keys
}
