package blobfs

import "errors"

var (
	ErrReactorStopped = errors.New("blobfs: reactor stopped")
	ErrNoSuperblock   = errors.New("blobfs: no superblock on device")
	ErrBadSuperblock  = errors.New("blobfs: corrupt superblock")
	ErrChecksum       = errors.New("blobfs: cluster checksum mismatch")
	ErrNotFound       = errors.New("blobfs: file not found")
	ErrInvalidName    = errors.New("blobfs: invalid file name")
	ErrInvalidChannel = errors.New("blobfs: channel not registered")
	ErrFileClosed     = errors.New("blobfs: file closed")
	ErrFileDeleted    = errors.New("blobfs: file deleted")
	ErrUnloaded       = errors.New("blobfs: filesystem unloaded")
)
