package forcing

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
)

// Binary forcing layout, little endian:
//
//	[Magic:4][Version:4][Columns:4][Steps:4][BoundaryColumns:4]
//	[SegmentID:8] x Columns
//	[SegmentID:8] x BoundaryColumns
//	[Value:8] x (Columns + BoundaryColumns), repeated Steps times
//
// Each step row holds the lateral values followed by the boundary values; a
// NaN boundary value means no override. Version 1 files have no
// BoundaryColumns field and no boundary values.
const (
	BinaryMagic   uint32 = 0x46524346 // "FRCF"
	BinaryVersion uint32 = 2

	binaryVersionLateralOnly uint32 = 1
	binaryHeaderSize                = 20
)

// Binary reads step rows directly from a memory-mapped forcing file, so the
// whole horizon never has to fit in memory.
type Binary struct {
	r        *mmap.ReaderAt
	columns  []network.SegmentID
	bcolumns []network.SegmentID
	steps    int
	dataOff  int64
	rowBuf   []byte
}

// OpenBinary maps a binary forcing file.
func OpenBinary(path string) (b *Binary, err error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = reader.Close()
		}
	}()

	header := make([]byte, binaryHeaderSize)
	if n, err := reader.ReadAt(header, 0); n < binaryHeaderSize-4 {
		return nil, fmt.Errorf("read forcing header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != BinaryMagic {
		return nil, fmt.Errorf("invalid forcing magic: %x", magic)
	}
	ncols := int(binary.LittleEndian.Uint32(header[8:12]))
	steps := int(binary.LittleEndian.Uint32(header[12:16]))
	hdrLen, nbcols := int64(binaryHeaderSize), 0
	switch v := binary.LittleEndian.Uint32(header[4:8]); v {
	case BinaryVersion:
		nbcols = int(binary.LittleEndian.Uint32(header[16:20]))
	case binaryVersionLateralOnly:
		hdrLen = binaryHeaderSize - 4
	default:
		return nil, fmt.Errorf("unsupported forcing version %d", v)
	}

	width := ncols + nbcols
	dataOff := hdrLen + int64(8*width)
	if want := dataOff + int64(8*width)*int64(steps); int64(reader.Len()) < want {
		return nil, fmt.Errorf("forcing file truncated: %d bytes, want %d", reader.Len(), want)
	}

	ids := make([]byte, 8*width)
	if _, err := reader.ReadAt(ids, hdrLen); err != nil {
		return nil, fmt.Errorf("read forcing columns: %w", err)
	}
	all := make([]network.SegmentID, width)
	for k := range all {
		all[k] = int64(binary.LittleEndian.Uint64(ids[8*k:]))
	}

	return &Binary{
		r:        reader,
		columns:  all[:ncols:ncols],
		bcolumns: all[ncols:],
		steps:    steps,
		dataOff:  dataOff,
		rowBuf:   make([]byte, 8*width),
	}, nil
}

// Columns implements Provider.
func (b *Binary) Columns() []network.SegmentID { return b.columns }

// Steps implements Provider.
func (b *Binary) Steps() int { return b.steps }

// Lateral implements Provider. It is not safe for concurrent use.
func (b *Binary) Lateral(step int, dst []float64) error {
	return b.read(step, 0, b.columns, dst)
}

// BoundaryColumns implements BoundaryProvider.
func (b *Binary) BoundaryColumns() []network.SegmentID { return b.bcolumns }

// Boundary implements BoundaryProvider. It is not safe for concurrent use.
func (b *Binary) Boundary(step int, dst []float64) error {
	if len(b.bcolumns) == 0 {
		return nil
	}
	return b.read(step, len(b.columns), b.bcolumns, dst)
}

// read decodes the values of cols, which start at column first of the row.
func (b *Binary) read(step, first int, cols []network.SegmentID, dst []float64) error {
	if step < 1 || step > b.steps {
		return stepError(step, b.steps)
	}
	off := b.dataOff + int64(step-1)*int64(len(b.rowBuf))
	if _, err := b.r.ReadAt(b.rowBuf, off); err != nil {
		return fmt.Errorf("read forcing step %d: %w", step, err)
	}
	for k := range cols {
		dst[k] = math.Float64frombits(binary.LittleEndian.Uint64(b.rowBuf[8*(first+k):]))
	}
	return nil
}

// Close unmaps the file.
func (b *Binary) Close() error {
	return b.r.Close()
}

// WriteBinary encodes every step of p in the binary layout, including its
// boundary columns when p is a BoundaryProvider.
func WriteBinary(w io.Writer, p Provider) error {
	bw := bufio.NewWriter(w)
	cols := p.Columns()
	bp, _ := p.(BoundaryProvider)
	var bcols []network.SegmentID
	if bp != nil {
		bcols = bp.BoundaryColumns()
	}

	var hdr [binaryHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], BinaryMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], BinaryVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(cols)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(p.Steps()))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(bcols)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	var word [8]byte
	for _, id := range append(slices.Clip(cols), bcols...) {
		binary.LittleEndian.PutUint64(word[:], uint64(id))
		if _, err := bw.Write(word[:]); err != nil {
			return err
		}
	}

	row := make([]float64, len(cols)+len(bcols))
	for step := 1; step <= p.Steps(); step++ {
		if err := p.Lateral(step, row[:len(cols)]); err != nil {
			return err
		}
		if len(bcols) > 0 {
			if err := bp.Boundary(step, row[len(cols):]); err != nil {
				return err
			}
		}
		for _, v := range row {
			binary.LittleEndian.PutUint64(word[:], math.Float64bits(v))
			if _, err := bw.Write(word[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
