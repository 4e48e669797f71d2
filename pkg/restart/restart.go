// Package restart reads and writes channel restart checkpoints: the inflow,
// outflow and depth of every segment at one model time. A checkpoint loaded
// from disk becomes the initial state of a new run.
package restart

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// File layout, big endian:
//
//	[Magic:4][Version:1][Step:8][Timestamp:8][Count:4][DataLen:4][Data:N][Checksum:4]
//
// Timestamp is Unix nanoseconds. Version 1 files stored Unix seconds and are
// still read.
//
// Data is snappy-compressed Count records of
//
//	[SegmentID:8][Inflow:8][Outflow:8][Depth:8]
//
// and Checksum is the CRC32 (IEEE) of the compressed bytes.
const (
	Magic   uint32 = 0x46525253 // "FRRS"
	Version byte   = 2

	versionUnixSeconds byte = 1

	recordSize = 32
	// FilePrefix and TimeLayout name checkpoint files.
	FilePrefix = "channel_restart_"
	TimeLayout = "200601021504"
)

// Checkpoint is a decoded restart file.
type Checkpoint struct {
	Step   int
	Time   time.Time
	Values map[network.SegmentID]state.Values

	// Sizes of the record block before and after compression.
	RawBytes        int
	CompressedBytes int
}

// FileName returns the checkpoint file name for model time t. Names have
// minute resolution, so checkpoints less than a minute apart share one.
func FileName(t time.Time) string {
	return FilePrefix + t.UTC().Format(TimeLayout)
}

// ParseFileName extracts the model time from a checkpoint file name.
func ParseFileName(name string) (time.Time, error) {
	base := filepath.Base(name)
	if len(base) != len(FilePrefix)+len(TimeLayout) || base[:len(FilePrefix)] != FilePrefix {
		return time.Time{}, fmt.Errorf("%q is not a restart file name", base)
	}
	return time.Parse(TimeLayout, base[len(FilePrefix):])
}

// Encode writes s as a checkpoint.
func Encode(w io.Writer, s *state.State) error {
	f := s.Forest()
	raw := make([]byte, recordSize*s.Len())
	for i := 0; i < s.Len(); i++ {
		rec := raw[i*recordSize:]
		binary.BigEndian.PutUint64(rec[0:], uint64(f.ID(i)))
		binary.BigEndian.PutUint64(rec[8:], math.Float64bits(s.Inflow(i)))
		binary.BigEndian.PutUint64(rec[16:], math.Float64bits(s.Outflow(i)))
		binary.BigEndian.PutUint64(rec[24:], math.Float64bits(s.Depth(i)))
	}
	data := snappy.Encode(nil, raw)

	bw := bufio.NewWriter(w)
	var hdr [29]byte
	binary.BigEndian.PutUint32(hdr[0:], Magic)
	hdr[4] = Version
	binary.BigEndian.PutUint64(hdr[5:], uint64(s.Step()))
	binary.BigEndian.PutUint64(hdr[13:], uint64(s.Time().UnixNano()))
	binary.BigEndian.PutUint32(hdr[21:], uint32(s.Len()))
	binary.BigEndian.PutUint32(hdr[25:], uint32(len(data)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := bw.Write(data); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, crc32.ChecksumIEEE(data)); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads a checkpoint.
func Decode(r io.Reader) (*Checkpoint, error) {
	var hdr [29]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read restart header: %w", err)
	}
	if m := binary.BigEndian.Uint32(hdr[0:]); m != Magic {
		return nil, fmt.Errorf("invalid restart magic: %x", m)
	}
	stamp := int64(binary.BigEndian.Uint64(hdr[13:]))
	cp := &Checkpoint{Step: int(binary.BigEndian.Uint64(hdr[5:]))}
	switch hdr[4] {
	case Version:
		cp.Time = time.Unix(0, stamp).UTC()
	case versionUnixSeconds:
		cp.Time = time.Unix(stamp, 0).UTC()
	default:
		return nil, fmt.Errorf("unsupported restart version %d", hdr[4])
	}
	count := int(binary.BigEndian.Uint32(hdr[21:]))
	dataLen := int(binary.BigEndian.Uint32(hdr[25:]))

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read restart data: %w", err)
	}
	var checksum uint32
	if err := binary.Read(r, binary.BigEndian, &checksum); err != nil {
		return nil, fmt.Errorf("read restart checksum: %w", err)
	}
	if got := crc32.ChecksumIEEE(data); got != checksum {
		return nil, fmt.Errorf("restart checksum mismatch: got %x, want %x", got, checksum)
	}

	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress restart data: %w", err)
	}
	if len(raw) != count*recordSize {
		return nil, fmt.Errorf("restart holds %d bytes for %d segments", len(raw), count)
	}

	cp.RawBytes, cp.CompressedBytes = len(raw), len(data)
	cp.Values = make(map[network.SegmentID]state.Values, count)
	for i := 0; i < count; i++ {
		rec := raw[i*recordSize:]
		id := int64(binary.BigEndian.Uint64(rec[0:]))
		cp.Values[id] = state.Values{
			Inflow:  math.Float64frombits(binary.BigEndian.Uint64(rec[8:])),
			Outflow: math.Float64frombits(binary.BigEndian.Uint64(rec[16:])),
			Depth:   math.Float64frombits(binary.BigEndian.Uint64(rec[24:])),
		}
	}
	return cp, nil
}

// State converts the checkpoint into the initial state of a run over f.
// Every segment of f must be present.
func (cp *Checkpoint) State(f *network.Forest) (*state.State, error) {
	return state.FromValues(f, cp.Time, cp.Values)
}

// Save writes s to dir under FileName(s.Time()), replacing any existing file
// atomically, and returns the path.
func Save(dir string, s *state.State) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create restart directory: %w", err)
	}
	path := filepath.Join(dir, FileName(s.Time()))

	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write restart file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to rename restart file: %w", err)
	}
	return path, nil
}

// Load reads the checkpoint at path as the initial state for f.
func Load(path string, f *network.Forest) (*state.State, error) {
	const op = "restart.Load"

	file, err := os.Open(path)
	if err != nil {
		return nil, routeerr.New(op, routeerr.ErrConfiguration).Detail("%s", path).Cause(err).Err()
	}
	defer file.Close()

	cp, err := Decode(bufio.NewReader(file))
	if err != nil {
		return nil, routeerr.New(op, routeerr.ErrConfiguration).Detail("%s", path).Cause(err).Err()
	}
	return cp.State(f)
}

// Latest returns the newest checkpoint in dir, by the time in its name.
func Latest(dir string) (string, time.Time, error) {
	matches, err := filepath.Glob(filepath.Join(dir, FilePrefix+"*"))
	if err != nil {
		return "", time.Time{}, err
	}
	var (
		best  string
		bestT time.Time
	)
	for _, m := range matches {
		t, err := ParseFileName(m)
		if err != nil {
			continue
		}
		if best == "" || t.After(bestT) {
			best, bestT = m, t
		}
	}
	if best == "" {
		return "", time.Time{}, fmt.Errorf("no restart files in %s", dir)
	}
	return best, bestT, nil
}
