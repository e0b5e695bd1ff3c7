package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/spyglass-apm/spyglass/internal/core"
	"github.com/spyglass-apm/spyglass/internal/logging"
)

// RollingFileName is the detail block file created inside the data directory.
const RollingFileName = "spyglass.rolling.db"

const (
	rollingMagic = "SPYGRF01"
	headerSize   = 24
	prefixSize   = 8

	// MinRollingCapacity is the smallest usable capacity. Anything below
	// this leaves no room for blocks after the header.
	MinRollingCapacity = 4096
)

// RollingFile is a capacity-capped block store. Appends are length-prefixed
// and wrap to the start of the data region when the capacity is reached,
// overwriting the oldest blocks. Each block carries a checksum so reads of
// overwritten or torn regions fail instead of returning garbage.
//
// Layout: 8-byte magic, capacity int64, write offset int64, then blocks of
// [length uint32][crc32 uint32][payload].
type RollingFile struct {
	mu          sync.RWMutex
	file        *os.File
	path        string
	capacity    int64
	writeOffset int64
	log         *logging.Logger
}

// NewRollingFile opens or creates the rolling file at path with the given
// capacity in bytes. An existing file with a valid header keeps its contents;
// if its stored capacity differs from the requested one it is resized. A file
// with a corrupt header is reset, losing its blocks.
func NewRollingFile(path string, capacity int64, log *logging.Logger) (*RollingFile, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if capacity < MinRollingCapacity {
		return nil, fmt.Errorf("rolling file capacity %d below minimum %d", capacity, MinRollingCapacity)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening rolling file: %w", err)
	}

	rf := &RollingFile{file: file, path: path, log: log}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("statting rolling file: %w", err)
	}

	if info.Size() == 0 {
		if err := rf.initLocked(capacity); err != nil {
			file.Close()
			return nil, err
		}
		return rf, nil
	}

	if err := rf.readHeaderLocked(); err != nil {
		log.Warn("rolling file header invalid; resetting", "path", path, "error", err)
		if err := file.Truncate(0); err != nil {
			file.Close()
			return nil, fmt.Errorf("truncating rolling file: %w", err)
		}
		if err := rf.initLocked(capacity); err != nil {
			file.Close()
			return nil, err
		}
		return rf, nil
	}

	if rf.capacity != capacity {
		if err := rf.resizeLocked(capacity); err != nil {
			file.Close()
			return nil, err
		}
	}
	return rf, nil
}

func (rf *RollingFile) initLocked(capacity int64) error {
	rf.capacity = capacity
	rf.writeOffset = headerSize
	return rf.writeHeaderLocked()
}

func (rf *RollingFile) writeHeaderLocked() error {
	var header [headerSize]byte
	copy(header[:8], rollingMagic)
	binary.BigEndian.PutUint64(header[8:16], uint64(rf.capacity))
	binary.BigEndian.PutUint64(header[16:24], uint64(rf.writeOffset))
	if _, err := rf.file.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("writing rolling file header: %w", err)
	}
	return nil
}

func (rf *RollingFile) readHeaderLocked() error {
	var header [headerSize]byte
	if _, err := io.ReadFull(io.NewSectionReader(rf.file, 0, headerSize), header[:]); err != nil {
		return fmt.Errorf("reading rolling file header: %w", err)
	}
	if string(header[:8]) != rollingMagic {
		return fmt.Errorf("bad magic %q", header[:8])
	}
	capacity := int64(binary.BigEndian.Uint64(header[8:16]))
	writeOffset := int64(binary.BigEndian.Uint64(header[16:24]))
	if capacity < MinRollingCapacity {
		return fmt.Errorf("stored capacity %d below minimum", capacity)
	}
	if writeOffset < headerSize || writeOffset > capacity {
		return fmt.Errorf("write offset %d outside data region", writeOffset)
	}
	rf.capacity = capacity
	rf.writeOffset = writeOffset
	return nil
}

// Append writes data as a new block and returns its offset for later reads.
// When the block does not fit before the capacity limit the write wraps to
// the start of the data region.
func (rf *RollingFile) Append(data []byte) (int64, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	need := int64(prefixSize + len(data))
	if need > rf.capacity-headerSize {
		return 0, core.ErrStorage(core.CodeBlockTooLarge,
			fmt.Sprintf("block of %d bytes exceeds rolling capacity %d", len(data), rf.capacity))
	}

	offset := rf.writeOffset
	if offset+need > rf.capacity {
		offset = headerSize
	}

	block := make([]byte, need)
	binary.BigEndian.PutUint32(block[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(block[4:8], crc32.ChecksumIEEE(data))
	copy(block[prefixSize:], data)

	if _, err := rf.file.WriteAt(block, offset); err != nil {
		return 0, core.ErrStorage(core.CodePersistFailed, "writing rolling file block").WithCause(err)
	}

	rf.writeOffset = offset + need
	if err := rf.writeHeaderLocked(); err != nil {
		return 0, core.ErrStorage(core.CodePersistFailed, "updating rolling file header").WithCause(err)
	}
	return offset, nil
}

// Read returns the block previously written at offset. Offsets whose block
// has since been overwritten by a wrapped append fail the checksum.
func (rf *RollingFile) Read(offset int64) ([]byte, error) {
	rf.mu.RLock()
	defer rf.mu.RUnlock()

	if offset < headerSize || offset+prefixSize > rf.capacity {
		return nil, core.ErrStorage(core.CodeBlockUnreadable,
			fmt.Sprintf("block offset %d outside data region", offset))
	}

	var prefix [prefixSize]byte
	if _, err := rf.file.ReadAt(prefix[:], offset); err != nil {
		return nil, core.ErrStorage(core.CodeBlockUnreadable, "reading block prefix").WithCause(err)
	}
	length := int64(binary.BigEndian.Uint32(prefix[0:4]))
	sum := binary.BigEndian.Uint32(prefix[4:8])

	if offset+prefixSize+length > rf.capacity {
		return nil, core.ErrStorage(core.CodeBlockUnreadable,
			fmt.Sprintf("block length %d at offset %d exceeds data region", length, offset))
	}

	data := make([]byte, length)
	if _, err := rf.file.ReadAt(data, offset+prefixSize); err != nil {
		return nil, core.ErrStorage(core.CodeBlockUnreadable, "reading block payload").WithCause(err)
	}
	if crc32.ChecksumIEEE(data) != sum {
		return nil, core.ErrStorage(core.CodeBlockUnreadable,
			fmt.Sprintf("block at offset %d failed checksum", offset))
	}
	return data, nil
}

// Resize changes the capacity. Resizing to the current capacity is a no-op.
// Growing keeps all blocks. Shrinking keeps blocks that still fit; when the
// live region extends past the new capacity the file is reset instead.
func (rf *RollingFile) Resize(capacity int64) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.resizeLocked(capacity)
}

func (rf *RollingFile) resizeLocked(capacity int64) error {
	if capacity < MinRollingCapacity {
		return fmt.Errorf("rolling file capacity %d below minimum %d", capacity, MinRollingCapacity)
	}
	if capacity == rf.capacity {
		return nil
	}

	if capacity < rf.writeOffset {
		if err := rf.file.Truncate(headerSize); err != nil {
			return fmt.Errorf("truncating rolling file: %w", err)
		}
		rf.writeOffset = headerSize
	} else if capacity < rf.capacity {
		info, err := rf.file.Stat()
		if err != nil {
			return fmt.Errorf("statting rolling file: %w", err)
		}
		if info.Size() > capacity {
			if err := rf.file.Truncate(capacity); err != nil {
				return fmt.Errorf("truncating rolling file: %w", err)
			}
		}
	}

	rf.capacity = capacity
	return rf.writeHeaderLocked()
}

// Capacity returns the current capacity in bytes.
func (rf *RollingFile) Capacity() int64 {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.capacity
}

// Path returns the rolling file's location on disk.
func (rf *RollingFile) Path() string {
	return rf.path
}

// Close syncs and closes the file.
func (rf *RollingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	syncErr := rf.file.Sync()
	closeErr := rf.file.Close()
	rf.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing rolling file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing rolling file: %w", closeErr)
	}
	return nil
}
