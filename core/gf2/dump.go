package gf2

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Dump writes the matrix as a little-endian uint32 side followed by Size
// little-endian uint64 rows.
func (m Matrix) Dump(w io.Writer) error {
	buf := make([]byte, 4+8*len(m.Rows))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Size))
	off := 4
	for _, row := range m.Rows {
		binary.LittleEndian.PutUint64(buf[off:off+8], row)
		off += 8
	}
	_, err := w.Write(buf)
	return err
}

// Load reads a matrix written by Dump.
func Load(r io.Reader) (Matrix, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Matrix{}, fmt.Errorf("%w: reading size: %w", ErrMalformed, unexpected(err))
	}
	size := int(binary.LittleEndian.Uint32(hdr[:]))
	if size == 0 || size > MaxSize {
		return Matrix{}, fmt.Errorf("%w: size %d outside 1..%d", ErrMalformed, size, MaxSize)
	}

	buf := make([]byte, 8*size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Matrix{}, fmt.Errorf("%w: reading %d rows: %w", ErrMalformed, size, unexpected(err))
	}
	mask := rowMask(size)
	m := Matrix{Size: size, Rows: make([]uint64, size)}
	for i := range m.Rows {
		row := binary.LittleEndian.Uint64(buf[8*i:])
		if row&^mask != 0 {
			return Matrix{}, fmt.Errorf("%w: row %d has bits beyond column %d", ErrMalformed, i, size)
		}
		m.Rows[i] = row
	}
	return m, nil
}

// io.ReadFull reports a stream that ends before the first byte as io.EOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// SaveFile dumps m to path.
func (m Matrix) SaveFile(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	if err := m.Dump(w); err != nil {
		_ = fh.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

// LoadFile loads a matrix from path.
func LoadFile(path string) (Matrix, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Matrix{}, err
	}
	defer fh.Close()
	m, err := Load(bufio.NewReader(fh))
	if err != nil {
		return Matrix{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
