package sim

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// BlockSize is the size of a media block in bytes.
const BlockSize = 512

// Media is the block store behind a simulated card.
type Media interface {
	// BlockCount returns the total number of blocks.
	BlockCount() uint64

	// ReadBlock reads block lba into buf, which holds at least BlockSize bytes.
	ReadBlock(lba uint64, buf []byte) error

	// WriteBlock writes the first BlockSize bytes of buf to block lba.
	WriteBlock(lba uint64, buf []byte) error
}

// MemoryMedia is a sparse in-memory Media. Blocks that were never written
// read back as zeros, so very large cards cost only what is written.
type MemoryMedia struct {
	blocks map[uint64]*[BlockSize]byte
	count  uint64
	mutex  sync.RWMutex
}

// NewMemoryMedia creates an in-memory medium with the given number of blocks.
func NewMemoryMedia(blocks uint64) *MemoryMedia {
	return &MemoryMedia{
		blocks: make(map[uint64]*[BlockSize]byte),
		count:  blocks,
	}
}

// BlockCount returns the number of blocks.
func (m *MemoryMedia) BlockCount() uint64 {
	return m.count
}

// ReadBlock reads one block.
func (m *MemoryMedia) ReadBlock(lba uint64, buf []byte) error {
	if err := checkBlock(lba, m.count, buf); err != nil {
		return err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if b, ok := m.blocks[lba]; ok {
		copy(buf, b[:])
	} else {
		clear(buf[:BlockSize])
	}
	return nil
}

// WriteBlock writes one block.
func (m *MemoryMedia) WriteBlock(lba uint64, buf []byte) error {
	if err := checkBlock(lba, m.count, buf); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	b, ok := m.blocks[lba]
	if !ok {
		b = new([BlockSize]byte)
		m.blocks[lba] = b
	}
	copy(b[:], buf)
	return nil
}

// Written returns the number of blocks that hold data.
func (m *MemoryMedia) Written() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.blocks)
}

// FileMedia is a Media backed by a disk image file. The image is locked
// (shared when read-only, exclusive otherwise) for as long as it is open.
type FileMedia struct {
	file     *os.File
	count    uint64
	readOnly bool
	mutex    sync.RWMutex
}

// OpenFileMedia opens an existing disk image. Trailing bytes beyond the last
// whole block are ignored.
func OpenFileMedia(path string, readOnly bool) (*FileMedia, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return newFileMedia(file, readOnly)
}

// CreateFileMedia creates (or truncates) a sparse disk image of the given
// number of blocks.
func CreateFileMedia(path string, blocks uint64) (*FileMedia, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(int64(blocks * BlockSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf("size image: %w", err)
	}
	return newFileMedia(file, false)
}

func newFileMedia(file *os.File, readOnly bool) (*FileMedia, error) {
	if err := lockFile(file, !readOnly); err != nil {
		file.Close()
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		unlockFile(file)
		file.Close()
		return nil, err
	}

	return &FileMedia{
		file:     file,
		count:    uint64(stat.Size()) / BlockSize,
		readOnly: readOnly,
	}, nil
}

// BlockCount returns the number of whole blocks in the image.
func (f *FileMedia) BlockCount() uint64 {
	return f.count
}

// ReadOnly reports whether the image was opened read-only.
func (f *FileMedia) ReadOnly() bool {
	return f.readOnly
}

// ReadBlock reads one block from the image.
func (f *FileMedia) ReadBlock(lba uint64, buf []byte) error {
	if err := checkBlock(lba, f.count, buf); err != nil {
		return err
	}

	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if f.file == nil {
		return os.ErrClosed
	}
	_, err := f.file.ReadAt(buf[:BlockSize], int64(lba*BlockSize))
	if err == io.EOF {
		err = nil
	}
	return err
}

// WriteBlock writes one block to the image.
func (f *FileMedia) WriteBlock(lba uint64, buf []byte) error {
	if err := checkBlock(lba, f.count, buf); err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return os.ErrClosed
	}
	if f.readOnly {
		return os.ErrPermission
	}
	_, err := f.file.WriteAt(buf[:BlockSize], int64(lba*BlockSize))
	return err
}

// Sync flushes image writes to disk.
func (f *FileMedia) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil || f.readOnly {
		return nil
	}
	return f.file.Sync()
}

// Close unlocks and closes the image.
func (f *FileMedia) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return nil
	}
	unlockFile(f.file)
	err := f.file.Close()
	f.file = nil
	return err
}

// checkBlock validates a block number and buffer length.
func checkBlock(lba, count uint64, buf []byte) error {
	if lba >= count {
		return fmt.Errorf("block %d of %d: %w", lba, count, io.EOF)
	}
	if len(buf) < BlockSize {
		return io.ErrShortBuffer
	}
	return nil
}
