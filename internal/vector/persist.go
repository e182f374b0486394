package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
)

var fileMagic = [4]byte{'N', 'C', 'V', 'X'}

const (
	fileVersion = uint32(1)
	headerSize  = 4 + 4 + 4 + 8 // magic, version, dimension, count
)

// Save writes the index to path atomically
func (x *FlatIndex) Save(path string) error {
	x.mu.RLock()
	buf := x.encodeLocked()
	x.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}

func (x *FlatIndex) encodeLocked() []byte {
	count := x.lenLocked()
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(x.data)*4+4))

	buf.Write(fileMagic[:])
	_ = binary.Write(buf, binary.LittleEndian, fileVersion)
	_ = binary.Write(buf, binary.LittleEndian, uint32(x.dimension))
	_ = binary.Write(buf, binary.LittleEndian, uint64(count))

	var word [4]byte
	for _, f := range x.data {
		binary.LittleEndian.PutUint32(word[:], math.Float32bits(f))
		buf.Write(word[:])
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	_ = binary.Write(buf, binary.LittleEndian, sum)
	return buf.Bytes()
}

// Load reads an index written by Save. A missing file returns an error
// satisfying errors.Is(err, os.ErrNotExist); anything unreadable returns
// ErrCorrupt.
func Load(path string, dimension int) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return decode(raw, dimension)
}

func decode(raw []byte, dimension int) (*FlatIndex, error) {
	if len(raw) < headerSize+4 {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrCorrupt, len(raw))
	}

	body, trailer := raw[:len(raw)-4], raw[len(raw)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if !bytes.Equal(body[:4], fileMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	version := binary.LittleEndian.Uint32(body[4:8])
	if version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	dim := int(binary.LittleEndian.Uint32(body[8:12]))
	if dim != dimension {
		return nil, fmt.Errorf("%w: dimension %d, expected %d", ErrCorrupt, dim, dimension)
	}

	count := binary.LittleEndian.Uint64(body[12:20])
	payload := body[headerSize:]
	if uint64(len(payload)) != count*uint64(dim)*4 {
		return nil, fmt.Errorf("%w: payload size %d for %d vectors", ErrCorrupt, len(payload), count)
	}

	idx, err := NewFlatIndex(dim)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	idx.data = make([]float32, len(payload)/4)
	for i := range idx.data {
		idx.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return idx, nil
}
