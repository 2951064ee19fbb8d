// Package trk reads and writes TrackVis (.trk) version 2 streamline files.
//
// Streamlines are exchanged in world (RAS+, mm) coordinates. On disk they are
// stored in TrackVis "voxmm" space: voxel coordinates shifted by half a voxel
// and scaled by the voxel sizes, with vox_to_ras holding the affine.
package trk

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/spatial/r3"

	"tractools/internal/models"
	"tractools/pkg/geometry"
)

const headerSize = 1000

// Header mirrors the 1000 byte TrackVis header.
type Header struct {
	IDString     [6]byte
	Dim          [3]int16
	VoxelSize    [3]float32
	Origin       [3]float32
	NScalars     int16
	ScalarName   [10][20]byte
	NProperties  int16
	PropertyName [10][20]byte
	VoxToRAS     [4][4]float32
	Reserved     [444]byte
	VoxelOrder   [4]byte
	Pad2         [4]byte
	ImageOrient  [6]float32
	Pad1         [2]byte
	InvertX      uint8
	InvertY      uint8
	InvertZ      uint8
	SwapXY       uint8
	SwapYZ       uint8
	SwapZX       uint8
	NCount       int32
	Version      int32
	HdrSize      int32
}

// Tractogram is a streamline collection with the geometry of the volume it
// was tracked on.
type Tractogram struct {
	// Streamlines in world coordinates
	Streamlines []models.Streamline
	// Affine maps voxel indices of the reference volume to world coordinates
	Affine models.Affine
	// Dims is the reference volume grid
	Dims [3]int
	// VoxelSize is the reference voxel size in mm
	VoxelSize [3]float64
}

// Save writes the tractogram to path. A ".gz" suffix gzip-compresses the file.
func Save(path string, t *Tractogram) error {
	inv, err := geometry.Inverse(t.Affine)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	zooms := t.VoxelSize
	if zooms == [3]float64{} {
		zooms = geometry.Zooms(t.Affine)
	}

	hdr := Header{
		IDString:   [6]byte{'T', 'R', 'A', 'C', 'K', 0},
		VoxelOrder: [4]byte{'R', 'A', 'S', 0},
		NCount:     int32(len(t.Streamlines)),
		Version:    2,
		HdrSize:    headerSize,
	}
	for i := 0; i < 3; i++ {
		hdr.Dim[i] = int16(t.Dims[i])
		hdr.VoxelSize[i] = float32(zooms[i])
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			hdr.VoxToRAS[i][j] = float32(t.Affine[i][j])
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if isGzip(path) {
		gz = gzip.NewWriter(f)
		w = gz
	}
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		f.Close()
		return fmt.Errorf("write header %s: %w", path, err)
	}

	buf := make([]byte, 12)
	for _, s := range t.Streamlines {
		if err := binary.Write(bw, binary.LittleEndian, int32(len(s))); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		for _, p := range s {
			v := geometry.Apply(inv, p)
			binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(float32((v.X+0.5)*zooms[0])))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32((v.Y+0.5)*zooms[1])))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32((v.Z+0.5)*zooms[2])))
			if _, err := bw.Write(buf); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", path, err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return fmt.Errorf("compress %s: %w", path, err)
		}
	}
	return f.Close()
}

// Load reads a TrackVis file and returns its streamlines in world
// coordinates. Per-point scalars and per-streamline properties are skipped.
func Load(path string) (*Tractogram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if isGzip(path) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	hdr, order, err := decodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	t := &Tractogram{}
	for i := 0; i < 3; i++ {
		t.Dims[i] = int(hdr.Dim[i])
		t.VoxelSize[i] = float64(hdr.VoxelSize[i])
		if t.VoxelSize[i] == 0 {
			t.VoxelSize[i] = 1
		}
	}
	if hdr.VoxToRAS[3][3] == 0 {
		// pre version 2 files carry no affine
		t.Affine = geometry.Scaling(t.VoxelSize)
	} else {
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				t.Affine[i][j] = float64(hdr.VoxToRAS[i][j])
			}
		}
	}

	perPoint := 3 + int(hdr.NScalars)
	props := int(hdr.NProperties)
	count := make([]byte, 4)
	for n := 0; hdr.NCount == 0 || n < int(hdr.NCount); n++ {
		if _, err := io.ReadFull(r, count); err != nil {
			if hdr.NCount == 0 && errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read streamline %d of %s: %w", n, path, err)
		}
		npts := int(int32(order.Uint32(count)))
		if npts < 0 {
			return nil, fmt.Errorf("streamline %d of %s has negative length", n, path)
		}

		data := make([]byte, (npts*perPoint+props)*4)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("read streamline %d of %s: %w", n, path, err)
		}

		s := make(models.Streamline, npts)
		for k := 0; k < npts; k++ {
			off := k * perPoint * 4
			vox := r3.Vec{
				X: float64(math.Float32frombits(order.Uint32(data[off:])))/t.VoxelSize[0] - 0.5,
				Y: float64(math.Float32frombits(order.Uint32(data[off+4:])))/t.VoxelSize[1] - 0.5,
				Z: float64(math.Float32frombits(order.Uint32(data[off+8:])))/t.VoxelSize[2] - 0.5,
			}
			s[k] = geometry.Apply(t.Affine, vox)
		}
		t.Streamlines = append(t.Streamlines, s)
	}

	return t, nil
}

func decodeHeader(raw []byte) (*Header, binary.ByteOrder, error) {
	if !bytes.HasPrefix(raw, []byte("TRACK")) {
		return nil, nil, errors.New("not a TrackVis file")
	}

	// hdr_size sits in the last four bytes
	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw[996:]) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw[996:]) == headerSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("invalid TrackVis hdr_size")
	}

	hdr := &Header{}
	if err := binary.Read(bytes.NewReader(raw), order, hdr); err != nil {
		return nil, nil, fmt.Errorf("decode header: %w", err)
	}
	return hdr, order, nil
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}
