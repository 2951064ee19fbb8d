package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"tractools/internal/models"
	"tractools/pkg/geometry"
)

// Load reads a NIfTI-1 volume. Stored values are converted to float64 and
// the scl_slope/scl_inter scaling is applied.
func Load(path string) (*models.Volume, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r, closeFn, err := reader(f, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer closeFn()

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	hdr, order, err := decodeHeader(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	// skip the extension flag and any extensions
	skip := int64(hdr.VoxOffset) - headerSize
	if skip < 0 {
		skip = 0
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, nil, fmt.Errorf("skip to data in %s: %w", path, err)
	}

	dims := hdr.Dims()
	vol := models.NewVolume(dims, hdr.Affine())
	vol.VoxelSize.X = hdr.pixDim(1)
	vol.VoxelSize.Y = hdr.pixDim(2)
	vol.VoxelSize.Z = hdr.pixDim(3)

	if err := decodeData(r, order, DataType(hdr.DataType), vol.Data); err != nil {
		return nil, nil, fmt.Errorf("read data of %s: %w", path, err)
	}

	slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
	if slope != 0 && (slope != 1 || inter != 0) {
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}

	return vol, hdr, nil
}

// ReadHeader reads only the header of a NIfTI-1 file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, closeFn, err := reader(f, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer closeFn()

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	hdr, _, err := decodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hdr, nil
}

// Save writes vol as a little-endian single-file NIfTI-1 volume.
//
// When tmpl is not nil its descriptive fields (units, intent, description,
// qform/sform codes) are carried over; dimensions, datatype, voxel sizes and
// the sform always come from vol.
func Save(path string, vol *models.Volume, tmpl *Header, dtype DataType) error {
	if err := vol.Validate(); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if len(vol.Dims) > 7 {
		return fmt.Errorf("save %s: NIfTI-1 supports at most 7 dimensions, got %d", path, len(vol.Dims))
	}
	bpv, err := dtype.BytesPerVoxel()
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	hdr := buildHeader(vol, tmpl, dtype, bpv)

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

	if err := writeAll(bw, hdr, dtype, vol.Data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
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

func buildHeader(vol *models.Volume, tmpl *Header, dtype DataType, bpv int) *Header {
	hdr := &Header{}
	if tmpl != nil {
		*hdr = *tmpl
	} else {
		hdr.XYZTUnits = 2 | 8 // mm, seconds
		hdr.PixDim[0] = 1
	}

	hdr.SizeOfHdr = headerSize
	hdr.Magic = singleFileMagic
	hdr.Dim = [8]int16{int16(len(vol.Dims)), 1, 1, 1, 1, 1, 1, 1}
	for i, d := range vol.Dims {
		hdr.Dim[i+1] = int16(d)
	}
	hdr.DataType = int16(dtype)
	hdr.BitPix = int16(bpv * 8)
	hdr.VoxOffset = dataOffset
	hdr.SclSlope = 1
	hdr.SclInter = 0
	hdr.CalMax, hdr.CalMin = 0, 0
	hdr.GLMax, hdr.GLMin = 0, 0

	zooms := geometry.Zooms(vol.Affine)
	for i := 0; i < 3; i++ {
		hdr.PixDim[i+1] = float32(zooms[i])
	}
	if hdr.PixDim[0] == 0 {
		hdr.PixDim[0] = 1
	}

	if hdr.SFormCode == XFormUnknown {
		hdr.SFormCode = XFormAlignedAnat
	}
	for j := 0; j < 4; j++ {
		hdr.SRowX[j] = float32(vol.Affine[0][j])
		hdr.SRowY[j] = float32(vol.Affine[1][j])
		hdr.SRowZ[j] = float32(vol.Affine[2][j])
	}
	return hdr
}

func writeAll(w io.Writer, hdr *Header, dtype DataType, data []float64) error {
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	// empty extension flag
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	return encodeData(w, dtype, data)
}

func decodeData(r io.Reader, order binary.ByteOrder, dtype DataType, out []float64) error {
	bpv, err := dtype.BytesPerVoxel()
	if err != nil {
		return err
	}

	buf := make([]byte, len(out)*bpv)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	for i := range out {
		b := buf[i*bpv : (i+1)*bpv]
		switch dtype {
		case Uint8:
			out[i] = float64(b[0])
		case Int8:
			out[i] = float64(int8(b[0]))
		case Int16:
			out[i] = float64(int16(order.Uint16(b)))
		case Uint16:
			out[i] = float64(order.Uint16(b))
		case Int32:
			out[i] = float64(int32(order.Uint32(b)))
		case Uint32:
			out[i] = float64(order.Uint32(b))
		case Float32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case Float64:
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return nil
}

func encodeData(w io.Writer, dtype DataType, data []float64) error {
	bpv, err := dtype.BytesPerVoxel()
	if err != nil {
		return err
	}

	le := binary.LittleEndian
	buf := make([]byte, bpv)
	for _, v := range data {
		switch dtype {
		case Uint8:
			buf[0] = uint8(clampRound(v, 0, math.MaxUint8))
		case Int8:
			buf[0] = byte(int8(clampRound(v, math.MinInt8, math.MaxInt8)))
		case Int16:
			le.PutUint16(buf, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
		case Uint16:
			le.PutUint16(buf, uint16(clampRound(v, 0, math.MaxUint16)))
		case Int32:
			le.PutUint32(buf, uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
		case Uint32:
			le.PutUint32(buf, uint32(clampRound(v, 0, math.MaxUint32)))
		case Float32:
			le.PutUint32(buf, math.Float32bits(float32(v)))
		case Float64:
			le.PutUint64(buf, math.Float64bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func clampRound(v, lo, hi float64) float64 {
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

func reader(f *os.File, path string) (io.Reader, func(), error) {
	br := bufio.NewReader(f)
	if !isGzip(path) {
		return br, func() {}, nil
	}
	gz, err := gzip.NewReader(br)
	if err != nil {
		return nil, nil, err
	}
	return gz, func() { gz.Close() }, nil
}
