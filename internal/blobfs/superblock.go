package blobfs

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// SuperblockName is the blob holding the filesystem metadata.
const SuperblockName = "blobfs.super"

const (
	superMagic   = "BLOBFSSB"
	superVersion = 1

	// magic(8) + version(2) + reserved(2) + uuid(16) + table length(4)
	superHeaderSize = 32
	checksumSize    = 4
)

// fileTable is the JSON document stored, snappy-compressed, in the superblock.
type fileTable struct {
	ClusterSize int64       `json:"cluster_size"`
	Files       []fileEntry `json:"files"`
}

type fileEntry struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Length uint64 `json:"length"`
}

// superblock is the decoded form of the superblock blob.
type superblock struct {
	ID    uuid.UUID
	Table fileTable
}

// encodeSuperblock serializes the superblock. The format is:
//   - 8 bytes: magic "BLOBFSSB"
//   - 2 bytes: version (uint16, little-endian)
//   - 2 bytes: reserved
//   - 16 bytes: filesystem UUID
//   - 4 bytes: compressed table length (uint32, little-endian)
//   - n bytes: snappy-compressed JSON file table
//   - 4 bytes: murmur3 checksum of everything before it
func encodeSuperblock(sb *superblock) ([]byte, error) {
	table, err := json.Marshal(sb.Table)
	if err != nil {
		return nil, fmt.Errorf("blobfs: failed to marshal file table: %w", err)
	}
	compressed := snappy.Encode(nil, table)

	buf := make([]byte, superHeaderSize+len(compressed)+checksumSize)
	copy(buf[0:8], superMagic)
	binary.LittleEndian.PutUint16(buf[8:10], superVersion)
	copy(buf[12:28], sb.ID[:])
	binary.LittleEndian.PutUint32(buf[28:32], uint32(len(compressed)))
	copy(buf[superHeaderSize:], compressed)

	end := superHeaderSize + len(compressed)
	binary.LittleEndian.PutUint32(buf[end:], murmur3.Sum32(buf[:end]))
	return buf, nil
}

// decodeSuperblock parses and validates a superblock blob.
func decodeSuperblock(data []byte) (*superblock, error) {
	if len(data) < superHeaderSize+checksumSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrBadSuperblock, len(data))
	}
	if string(data[0:8]) != superMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadSuperblock)
	}
	if v := binary.LittleEndian.Uint16(data[8:10]); v != superVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSuperblock, v)
	}

	n := int(binary.LittleEndian.Uint32(data[28:32]))
	end := superHeaderSize + n
	if len(data) != end+checksumSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrBadSuperblock, end+checksumSize, len(data))
	}
	if want, got := binary.LittleEndian.Uint32(data[end:]), murmur3.Sum32(data[:end]); want != got {
		return nil, fmt.Errorf("%w: checksum %08x, want %08x", ErrBadSuperblock, got, want)
	}

	table, err := snappy.Decode(nil, data[superHeaderSize:end])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSuperblock, err)
	}

	sb := &superblock{}
	copy(sb.ID[:], data[12:28])
	if err := json.Unmarshal(table, &sb.Table); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSuperblock, err)
	}
	if sb.Table.ClusterSize <= 0 {
		return nil, fmt.Errorf("%w: cluster size %d", ErrBadSuperblock, sb.Table.ClusterSize)
	}
	return sb, nil
}

// encodeCluster appends a murmur3 checksum trailer to cluster data.
func encodeCluster(data []byte) []byte {
	buf := make([]byte, len(data)+checksumSize)
	copy(buf, data)
	binary.LittleEndian.PutUint32(buf[len(data):], murmur3.Sum32(data))
	return buf
}

// decodeCluster verifies and strips the checksum trailer of a cluster blob.
func decodeCluster(blob []byte) ([]byte, error) {
	if len(blob) < checksumSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrChecksum, len(blob))
	}
	data := blob[:len(blob)-checksumSize]
	if want, got := binary.LittleEndian.Uint32(blob[len(data):]), murmur3.Sum32(data); want != got {
		return nil, fmt.Errorf("%w: %08x, want %08x", ErrChecksum, got, want)
	}
	return data, nil
}
