// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz).
//
// Only what the tractools commands need is supported: the common scalar
// datatypes, qform/sform affines and scaling. Extensions are skipped on read
// and never written.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"tractools/internal/models"
)

// Header mirrors the 348 byte nifti_1_header layout.
//
// Type translation from the C header:
//
//	C      Go
//	-------------
//	int    int32
//	float  float32
//	short  int16
//	char   byte
type Header struct {
	SizeOfHdr      int32    // Must be 348
	UnusedDataType [10]byte // Unused
	UnusedDBName   [18]byte // Unused
	UnusedExtents  int32    // Unused
	UnusedSession  int16    // Unused
	UnusedRegular  byte     // Unused
	DimInfo        byte     // MRI slice ordering

	Dim        [8]int16   // Data array dimensions
	IntentP1   float32    // 1st intent parameter
	IntentP2   float32    // 2nd intent parameter
	IntentP3   float32    // 3rd intent parameter
	IntentCode int16      // NIFTI_INTENT_* code
	DataType   int16      // Defines data type
	BitPix     int16      // Number bits/voxel
	SliceStart int16      // First slice index
	PixDim     [8]float32 // Grid spacing
	VoxOffset  float32    // Offset into .nii file
	SclSlope   float32    // Data scaling: slope
	SclInter   float32    // Data scaling: offset
	SliceEnd   int16      // Last slice index
	SliceCode  byte       // Slice timing order
	XYZTUnits  byte       // Units of pixdim[1..4]
	CalMax     float32    // Max display intensity
	CalMin     float32    // Min display intensity
	SliceDur   float32    // Time for 1 slice
	TOffset    float32    // Time axis shift
	GLMax      int32      // Unused
	GLMin      int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b param
	QuaternC float32 // Quaternion c param
	QuaternD float32 // Quaternion d param
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // Name or meaning of data

	Magic [4]byte // Must be "n+1\0" for single file NIfTI
}

const (
	headerSize = 348
	dataOffset = 352
)

// Transform codes.
const (
	XFormUnknown     = 0
	XFormScannerAnat = 1
	XFormAlignedAnat = 2
)

var singleFileMagic = [4]byte{'n', '+', '1', 0}

// DataType is a NIFTI_TYPE_* code.
type DataType int16

// Supported datatypes.
const (
	Uint8   DataType = 2
	Int16   DataType = 4
	Int32   DataType = 8
	Float32 DataType = 16
	Float64 DataType = 64
	Int8    DataType = 256
	Uint16  DataType = 512
	Uint32  DataType = 768
)

// BytesPerVoxel returns the storage size of one value.
func (d DataType) BytesPerVoxel() (int, error) {
	switch d {
	case Uint8, Int8:
		return 1, nil
	case Int16, Uint16:
		return 2, nil
	case Int32, Uint32, Float32:
		return 4, nil
	case Float64:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported NIfTI datatype %d", d)
	}
}

// Dims returns the used dimensions, padded to at least three.
func (h *Header) Dims() []int {
	n := int(h.Dim[0])
	if n < 1 || n > 7 {
		n = 3
	}
	dims := make([]int, 0, 7)
	for i := 1; i <= n; i++ {
		d := int(h.Dim[i])
		if d < 1 {
			d = 1
		}
		dims = append(dims, d)
	}
	for len(dims) < 3 {
		dims = append(dims, 1)
	}
	return dims
}

// Description returns the descrip field as a string.
func (h *Header) Description() string {
	return strings.TrimRight(string(h.Descrip[:]), "\x00")
}

// SetDescription stores s, truncated to 79 bytes, in the descrip field.
func (h *Header) SetDescription(s string) {
	h.Descrip = [80]byte{}
	copy(h.Descrip[:79], s)
}

// Affine returns the voxel to world transform. The sform wins when set,
// then the qform, then a plain scaling by the voxel sizes.
func (h *Header) Affine() models.Affine {
	switch {
	case h.SFormCode > XFormUnknown:
		a := models.Identity()
		for j := 0; j < 4; j++ {
			a[0][j] = float64(h.SRowX[j])
			a[1][j] = float64(h.SRowY[j])
			a[2][j] = float64(h.SRowZ[j])
		}
		return a
	case h.QFormCode > XFormUnknown:
		return h.quaternionAffine()
	default:
		a := models.Identity()
		for i := 0; i < 3; i++ {
			a[i][i] = h.pixDim(i + 1)
		}
		return a
	}
}

// quaternionAffine follows quatern_to_mat44 from nifti1_io.c.
func (h *Header) quaternionAffine() models.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1.0 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// special case: a is tiny, renormalize (b, c, d)
		a = 1.0 / math.Sqrt(b*b+c*c+d*d)
		b *= a
		c *= a
		d *= a
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	dx, dy, dz := h.pixDim(1), h.pixDim(2), h.pixDim(3)
	if h.PixDim[0] < 0 {
		dz = -dz
	}

	m := models.Identity()
	m[0][0] = (a*a + b*b - c*c - d*d) * dx
	m[0][1] = 2 * (b*c - a*d) * dy
	m[0][2] = 2 * (b*d + a*c) * dz
	m[1][0] = 2 * (b*c + a*d) * dx
	m[1][1] = (a*a + c*c - b*b - d*d) * dy
	m[1][2] = 2 * (c*d - a*b) * dz
	m[2][0] = 2 * (b*d - a*c) * dx
	m[2][1] = 2 * (c*d + a*b) * dy
	m[2][2] = (a*a + d*d - c*c - b*b) * dz
	m[0][3] = float64(h.QOffsetX)
	m[1][3] = float64(h.QOffsetY)
	m[2][3] = float64(h.QOffsetZ)
	return m
}

func (h *Header) pixDim(i int) float64 {
	v := math.Abs(float64(h.PixDim[i]))
	if v == 0 {
		return 1
	}
	return v
}

// decodeHeader parses the first 348 bytes of a file and returns the header
// with the byte order the file was written in.
func decodeHeader(raw []byte) (*Header, binary.ByteOrder, error) {
	if len(raw) < headerSize {
		return nil, nil, fmt.Errorf("header too short: %d bytes", len(raw))
	}

	var order binary.ByteOrder
	switch {
	case int32(binary.LittleEndian.Uint32(raw)) == headerSize:
		order = binary.LittleEndian
	case int32(binary.BigEndian.Uint32(raw)) == headerSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("not a NIfTI-1 file: sizeof_hdr is not %d", headerSize)
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, h); err != nil {
		return nil, nil, fmt.Errorf("decode header: %w", err)
	}
	if h.Magic != singleFileMagic {
		return nil, nil, fmt.Errorf("unsupported NIfTI magic %q, only single file n+1 is handled", h.Magic[:3])
	}
	return h, order, nil
}
