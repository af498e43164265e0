// Package device resolves named backing devices from configuration into
// blob stores the filesystem can be loaded from.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blobfs/blobbench/internal/config"
	"github.com/blobfs/blobbench/internal/storage"
)

// ErrDeviceNotFound is returned when no device with the requested name is configured.
var ErrDeviceNotFound = errors.New("device: not found")

// Device is an opened backing device.
type Device struct {
	Name        string
	Type        string
	ClusterSize int64
	Store       storage.BlobStore
}

// Registry maps device names to their configuration and opens them on demand.
// Memory devices keep their contents for the lifetime of the registry, so a
// filesystem unloaded and loaded again from the same registry sees its data.
type Registry struct {
	mu      sync.Mutex
	devices map[string]config.DeviceConfig
	order   []string
	memory  map[string]*storage.MemoryStore
	stores  map[string]storage.BlobStore
}

// NewRegistry creates a registry from device configurations.
func NewRegistry(devices []config.DeviceConfig) *Registry {
	r := &Registry{
		devices: make(map[string]config.DeviceConfig, len(devices)),
		memory:  make(map[string]*storage.MemoryStore),
		stores:  make(map[string]storage.BlobStore),
	}
	for _, d := range devices {
		if _, ok := r.devices[d.Name]; !ok {
			r.order = append(r.order, d.Name)
		}
		r.devices[d.Name] = d
	}
	return r
}

// Attach adds a device backed by an existing store. It replaces any
// configured device of the same name.
func (r *Registry) Attach(name string, store storage.BlobStore, clusterSize int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[name]; !ok {
		r.order = append(r.order, name)
	}
	r.devices[name] = config.DeviceConfig{Name: name, Type: "attached", ClusterSize: clusterSize}
	r.stores[name] = store
}

// Names returns the configured device names in configuration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Lookup returns the configuration of a device.
func (r *Registry) Lookup(name string) (config.DeviceConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[name]
	return d, ok
}

// Open resolves a device name and connects its blob store.
func (r *Registry) Open(ctx context.Context, name string) (*Device, error) {
	cfg, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}

	store, err := r.openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", name, err)
	}

	clusterSize := cfg.ClusterSize
	if clusterSize <= 0 {
		clusterSize = config.DefaultClusterSize
	}

	return &Device{
		Name:        cfg.Name,
		Type:        cfg.Type,
		ClusterSize: clusterSize,
		Store:       store,
	}, nil
}

func (r *Registry) openStore(ctx context.Context, cfg config.DeviceConfig) (storage.BlobStore, error) {
	r.mu.Lock()
	attached, ok := r.stores[cfg.Name]
	r.mu.Unlock()
	if ok {
		return attached, nil
	}

	switch cfg.Type {
	case config.DeviceMemory, "":
		r.mu.Lock()
		defer r.mu.Unlock()
		store, ok := r.memory[cfg.Name]
		if !ok {
			store = storage.NewMemoryStore()
			r.memory[cfg.Name] = store
		}
		return store, nil

	case config.DeviceLocal:
		return storage.NewLocalStorage(cfg.Path)

	case config.DeviceS3:
		s3Cfg := storage.DefaultS3Config()
		if cfg.Region != "" {
			s3Cfg.Region = cfg.Region
		}
		if cfg.Endpoint != "" {
			s3Cfg.Endpoint = cfg.Endpoint
			s3Cfg.UsePathStyle = true
		}
		s3Cfg.Prefix = cfg.Prefix
		return storage.NewS3Storage(ctx, cfg.Bucket, s3Cfg)

	case config.DeviceMinio:
		return storage.NewMinioStorage(ctx, cfg.Bucket, storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
			Prefix:    cfg.Prefix,
		})

	default:
		return nil, fmt.Errorf("unsupported device type: %s", cfg.Type)
	}
}
