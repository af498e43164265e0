// Package blobfs implements a small asynchronous filesystem on top of a blob
// store. All state belongs to a single Reactor goroutine: every operation in
// this package, except File.Length and the Reactor methods, must be called on
// the reactor, and completion callbacks run there too.
//
// On the device, the superblock blob holds the file table and each file is
// split into fixed-size cluster blobs named files/<file-id>/<index>.
package blobfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/blobfs/blobbench/internal/cache"
	"github.com/blobfs/blobbench/internal/logging"
	"github.com/blobfs/blobbench/internal/storage"
)

// Default options.
const (
	DefaultClusterSize      = 64 << 10
	DefaultCacheSizeMB      = 512
	DefaultFlushConcurrency = 4

	maxNameLength = 255
	clusterRoot   = "files"
)

// Options configures a filesystem instance.
type Options struct {
	// ClusterSize is the size of one data blob. Only Init uses it; Load
	// takes the cluster size recorded in the superblock.
	ClusterSize int64

	// CacheSizeMB bounds the cluster cache.
	CacheSizeMB int

	// FlushConcurrency bounds parallel cluster uploads during sync.
	FlushConcurrency int

	Logger *logging.Logger
}

// DefaultOptions returns the default filesystem options.
func DefaultOptions() Options {
	return Options{
		ClusterSize:      DefaultClusterSize,
		CacheSizeMB:      DefaultCacheSizeMB,
		FlushConcurrency: DefaultFlushConcurrency,
	}
}

func (o *Options) normalize() {
	if o.ClusterSize <= 0 {
		o.ClusterSize = DefaultClusterSize
	}
	if o.CacheSizeMB <= 0 {
		o.CacheSizeMB = DefaultCacheSizeMB
	}
	if o.FlushConcurrency <= 0 {
		o.FlushConcurrency = DefaultFlushConcurrency
	}
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
}

// OpenFlags control OpenFile.
type OpenFlags int

const (
	// OpenCreate creates the file if it does not exist.
	OpenCreate OpenFlags = 1 << iota
)

// FileStat describes a file.
type FileStat struct {
	Name   string
	ID     string
	Length uint64
}

// Channel is a registration of one caller with the filesystem. Every file
// operation names the channel it is issued on.
type Channel struct {
	id    uint64
	name  string
	freed bool
}

// ID returns the channel number.
func (c *Channel) ID() uint64 { return c.id }

// Name returns the name the channel was allocated with.
func (c *Channel) Name() string { return c.name }

type inode struct {
	name string
	id   string

	length atomic.Uint64

	// persisted is the length recorded in the last superblock written.
	persisted uint64
	// stored is the end of the data known to exist in cluster blobs.
	stored uint64

	dirty   map[int64]struct{}
	deleted bool
}

func newInode(name, id string, length uint64) *inode {
	ino := &inode{
		name:      name,
		id:        id,
		persisted: length,
		stored:    length,
		dirty:     make(map[int64]struct{}),
	}
	ino.length.Store(length)
	return ino
}

// Filesystem is a loaded blobfs instance.
type Filesystem struct {
	ctx         context.Context
	store       storage.BlobStore
	batch       *storage.BatchWriter
	cache       *cache.PageCache
	log         *logging.Logger
	id          uuid.UUID
	clusterSize int64

	files       map[string]*inode
	metaDirty   bool
	channels    map[uint64]*Channel
	nextChannel uint64
	unloaded    bool
}

func newFilesystem(store storage.BlobStore, id uuid.UUID, clusterSize int64, opts Options) (*Filesystem, error) {
	pc, err := cache.NewPageCache(int64(opts.CacheSizeMB)<<20, clusterSize)
	if err != nil {
		return nil, fmt.Errorf("blobfs: %w", err)
	}
	return &Filesystem{
		ctx:         context.Background(),
		store:       store,
		batch:       storage.NewBatchWriter(store, opts.FlushConcurrency),
		cache:       pc,
		log:         opts.Logger,
		id:          id,
		clusterSize: clusterSize,
		files:       make(map[string]*inode),
		channels:    make(map[uint64]*Channel),
	}, nil
}

// Load reads the superblock from store and calls cb with the filesystem.
// A device without a superblock fails with ErrNoSuperblock.
func Load(store storage.BlobStore, opts Options, cb func(*Filesystem, error)) {
	opts.normalize()
	fs, err := load(store, opts)
	cb(fs, err)
}

func load(store storage.BlobStore, opts Options) (*Filesystem, error) {
	data, err := store.Get(context.Background(), SuperblockName)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrNoSuperblock
	}
	if err != nil {
		return nil, fmt.Errorf("blobfs: failed to read superblock: %w", err)
	}

	sb, err := decodeSuperblock(data)
	if err != nil {
		return nil, err
	}

	fs, err := newFilesystem(store, sb.ID, sb.Table.ClusterSize, opts)
	if err != nil {
		return nil, err
	}
	for _, e := range sb.Table.Files {
		fs.files[e.Name] = newInode(e.Name, e.ID, e.Length)
	}

	fs.log.Info("filesystem loaded",
		"fs_id", fs.id,
		"files", len(fs.files),
		"cluster_size", fs.clusterSize,
		"cache_mb", opts.CacheSizeMB,
	)
	return fs, nil
}

// Init formats store with an empty filesystem, removing any cluster blobs
// left by a previous one, and calls cb with the new filesystem.
func Init(store storage.BlobStore, opts Options, cb func(*Filesystem, error)) {
	opts.normalize()
	fs, err := initialize(store, opts)
	cb(fs, err)
}

func initialize(store storage.BlobStore, opts Options) (*Filesystem, error) {
	fs, err := newFilesystem(store, uuid.New(), opts.ClusterSize, opts)
	if err != nil {
		return nil, err
	}

	stale, err := store.List(fs.ctx, clusterRoot+"/")
	if err != nil {
		return nil, fmt.Errorf("blobfs: failed to list old clusters: %w", err)
	}
	if len(stale) > 0 {
		if err := fs.batch.Delete(fs.ctx, stale).Err(); err != nil {
			return nil, fmt.Errorf("blobfs: failed to remove old clusters: %w", err)
		}
	}

	if err := fs.writeSuperblock(); err != nil {
		return nil, err
	}

	fs.log.Info("filesystem initialized",
		"fs_id", fs.id,
		"cluster_size", fs.clusterSize,
		"removed_clusters", len(stale),
	)
	return fs, nil
}

// ID returns the filesystem UUID.
func (fs *Filesystem) ID() uuid.UUID { return fs.id }

// ClusterSize returns the size of one data blob.
func (fs *Filesystem) ClusterSize() int64 { return fs.clusterSize }

// CacheMetrics returns the cluster cache statistics. Safe from any goroutine.
func (fs *Filesystem) CacheMetrics() cache.Snapshot { return fs.cache.Metrics() }

// Channels returns the number of allocated channels.
func (fs *Filesystem) Channels() int { return len(fs.channels) }

// Files returns the names of all files, sorted.
func (fs *Filesystem) Files() []string {
	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllocChannel registers a new channel. It returns nil once the filesystem
// has been unloaded.
func (fs *Filesystem) AllocChannel(name string) *Channel {
	if fs.unloaded {
		return nil
	}
	fs.nextChannel++
	ch := &Channel{id: fs.nextChannel, name: name}
	fs.channels[ch.id] = ch
	return ch
}

// FreeChannel unregisters a channel. Freeing a channel twice is a no-op.
func (fs *Filesystem) FreeChannel(ch *Channel) {
	if ch == nil || ch.freed {
		return
	}
	if fs.channels[ch.id] == ch {
		delete(fs.channels, ch.id)
	}
	ch.freed = true
}

func (fs *Filesystem) checkChannel(ch *Channel) error {
	if fs.unloaded {
		return ErrUnloaded
	}
	if ch == nil || ch.freed || fs.channels[ch.id] != ch {
		return ErrInvalidChannel
	}
	return nil
}

// OpenFile opens name, creating it when flags include OpenCreate. Every
// handle to the same name shares the same data and length.
func (fs *Filesystem) OpenFile(ch *Channel, name string, flags OpenFlags, cb func(*File, error)) {
	if err := fs.checkChannel(ch); err != nil {
		cb(nil, err)
		return
	}
	if name == "" || len(name) > maxNameLength {
		cb(nil, fmt.Errorf("%w: %q", ErrInvalidName, name))
		return
	}

	ino, ok := fs.files[name]
	if !ok {
		if flags&OpenCreate == 0 {
			cb(nil, fmt.Errorf("%w: %s", ErrNotFound, name))
			return
		}
		ino = newInode(name, uuid.NewString(), 0)
		fs.files[name] = ino
		fs.metaDirty = true
		if err := fs.writeSuperblock(); err != nil {
			delete(fs.files, name)
			cb(nil, err)
			return
		}
		fs.log.Debug("file created", "file", name, "file_id", ino.id)
	}

	cb(&File{fs: fs, ino: ino}, nil)
}

// DeleteFile removes name from the file table and deletes its clusters.
// Handles still open on the file fail with ErrFileDeleted afterwards.
func (fs *Filesystem) DeleteFile(ch *Channel, name string, cb func(error)) {
	if err := fs.checkChannel(ch); err != nil {
		cb(err)
		return
	}

	ino, ok := fs.files[name]
	if !ok {
		cb(fmt.Errorf("%w: %s", ErrNotFound, name))
		return
	}

	delete(fs.files, name)
	fs.metaDirty = true
	if err := fs.writeSuperblock(); err != nil {
		fs.files[name] = ino
		cb(err)
		return
	}
	ino.deleted = true
	ino.dirty = make(map[int64]struct{})

	prefix := clusterPrefix(ino.id)
	fs.cache.RemovePrefix(prefix)

	clusters, err := fs.store.List(fs.ctx, prefix)
	if err == nil && len(clusters) > 0 {
		err = fs.batch.Delete(fs.ctx, clusters).Err()
	}
	if err != nil {
		// The file is gone from the table; leftover clusters are removed by the next Init.
		fs.log.Warn("failed to remove clusters of deleted file", "file", name, "file_id", ino.id, "error", err)
	}

	fs.log.Debug("file deleted", "file", name, "file_id", ino.id, "clusters", len(clusters))
	cb(nil)
}

// StatFile reports the length of name, or ErrNotFound.
func (fs *Filesystem) StatFile(ch *Channel, name string, cb func(FileStat, error)) {
	if err := fs.checkChannel(ch); err != nil {
		cb(FileStat{}, err)
		return
	}

	ino, ok := fs.files[name]
	if !ok {
		cb(FileStat{}, fmt.Errorf("%w: %s", ErrNotFound, name))
		return
	}
	cb(FileStat{Name: ino.name, ID: ino.id, Length: ino.length.Load()}, nil)
}

// Unload flushes every dirty cluster, writes the superblock and releases
// the cache. The filesystem is unusable afterwards even if flushing fails.
func (fs *Filesystem) Unload(cb func(error)) {
	if fs.unloaded {
		cb(ErrUnloaded)
		return
	}

	var firstErr error
	for _, name := range fs.Files() {
		if err := fs.flush(fs.files[name]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := fs.persist(); err != nil && firstErr == nil {
		firstErr = err
	}

	metrics := fs.cache.Metrics()
	fs.cache.Clear()
	fs.unloaded = true

	fs.log.Info("filesystem unloaded",
		"fs_id", fs.id,
		"files", len(fs.files),
		"open_channels", len(fs.channels),
		"cache_hits", metrics.Hits,
		"cache_misses", metrics.Misses,
		"cache_evictions", metrics.Evictions,
	)
	cb(firstErr)
}

// page returns the cached cluster idx of ino, reading it from the store on
// a miss. Clusters beyond the stored data start empty.
func (fs *Filesystem) page(ino *inode, idx int64) (*cache.Page, error) {
	key := clusterName(ino.id, idx)
	if p, ok := fs.cache.Get(key); ok {
		return p, nil
	}

	data := make([]byte, 0, fs.clusterSize)
	if uint64(idx)*uint64(fs.clusterSize) < ino.stored {
		blob, err := fs.store.Get(fs.ctx, key)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			// A hole: never written.
		case err != nil:
			return nil, fmt.Errorf("blobfs: failed to read cluster %s: %w", key, err)
		default:
			payload, err := decodeCluster(blob)
			if err != nil {
				return nil, fmt.Errorf("cluster %s: %w", key, err)
			}
			data = append(data, payload...)
		}
	}
	return fs.cache.Put(key, data, false), nil
}

// flush uploads the dirty clusters of ino.
func (fs *Filesystem) flush(ino *inode) error {
	if ino == nil || len(ino.dirty) == 0 {
		return nil
	}

	blobs := make(map[string][]byte, len(ino.dirty))
	index := make(map[string]int64, len(ino.dirty))
	for idx := range ino.dirty {
		key := clusterName(ino.id, idx)
		p, ok := fs.cache.Peek(key)
		if !ok {
			delete(ino.dirty, idx)
			continue
		}
		blobs[key] = encodeCluster(p.Data)
		index[key] = idx
	}

	res := fs.batch.Put(fs.ctx, blobs)
	cs := uint64(fs.clusterSize)
	for key, idx := range index {
		if _, failed := res.Errors[key]; failed {
			continue
		}
		delete(ino.dirty, idx)
		fs.cache.MarkClean(key)
		if end := uint64(idx)*cs + uint64(len(blobs[key])-checksumSize); end > ino.stored {
			ino.stored = end
		}
	}
	return res.Err()
}

// persist writes the superblock if any durable length changed. A file with
// unflushed clusters keeps its previously persisted length.
func (fs *Filesystem) persist() error {
	changed := fs.metaDirty
	for _, ino := range fs.files {
		if len(ino.dirty) == 0 && ino.length.Load() != ino.persisted {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}
	return fs.writeSuperblock()
}

func (fs *Filesystem) writeSuperblock() error {
	sb := &superblock{
		ID:    fs.id,
		Table: fileTable{ClusterSize: fs.clusterSize},
	}
	lengths := make(map[*inode]uint64, len(fs.files))
	for _, name := range fs.Files() {
		ino := fs.files[name]
		length := ino.persisted
		if len(ino.dirty) == 0 {
			length = ino.length.Load()
		}
		lengths[ino] = length
		sb.Table.Files = append(sb.Table.Files, fileEntry{Name: ino.name, ID: ino.id, Length: length})
	}

	data, err := encodeSuperblock(sb)
	if err != nil {
		return err
	}
	if err := fs.store.Put(fs.ctx, SuperblockName, data); err != nil {
		return fmt.Errorf("blobfs: failed to write superblock: %w", err)
	}

	for ino, length := range lengths {
		ino.persisted = length
	}
	fs.metaDirty = false
	return nil
}

func clusterPrefix(fileID string) string {
	return clusterRoot + "/" + fileID + "/"
}

func clusterName(fileID string, idx int64) string {
	return path.Join(clusterRoot, fileID, strconv.FormatInt(idx, 10))
}
