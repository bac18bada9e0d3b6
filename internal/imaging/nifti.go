package imaging

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
)

const niftiHeaderSize = 348

// NIfTI-1 datatype codes.
const (
	niftiUint8   = 2
	niftiInt16   = 4
	niftiInt32   = 8
	niftiFloat32 = 16
	niftiFloat64 = 64
	niftiInt8    = 256
	niftiUint16  = 512
	niftiUint32  = 768
)

var errNotNIfTI = errors.New("not a single-file NIfTI-1 volume")

type niftiHeader struct {
	order     binary.ByteOrder
	dims      [8]int
	datatype  int
	bitpix    int
	voxOffset int
}

// decodeNIfTI reads the middle axial slice of a (optionally gzipped) NIfTI-1 volume.
func decodeNIfTI(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	raw := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errNotNIfTI, err)
	}
	hdr, err := parseNIfTIHeader(raw)
	if err != nil {
		return nil, err
	}

	nx, ny := hdr.dims[1], hdr.dims[2]
	nz := 1
	if hdr.dims[0] >= 3 && hdr.dims[3] > 0 {
		nz = hdr.dims[3]
	}
	bytesPer := hdr.bitpix / 8
	plane := nx * ny

	skip := int64(hdr.voxOffset-niftiHeaderSize) + int64(nz/2)*int64(plane)*int64(bytesPer)
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("seek to slice: %w", err)
	}
	data := make([]byte, plane*bytesPer)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read slice: %w", err)
	}

	values := make([]float64, plane)
	for i := range values {
		values[i] = niftiValue(data[i*bytesPer:(i+1)*bytesPer], hdr.datatype, hdr.order)
	}
	return sliceToGray(values, nx, ny), nil
}

func parseNIfTIHeader(raw []byte) (*niftiHeader, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if int32(order.Uint32(raw[0:4])) != niftiHeaderSize {
		order = binary.BigEndian
		if int32(order.Uint32(raw[0:4])) != niftiHeaderSize {
			return nil, errNotNIfTI
		}
	}
	if string(raw[344:347]) != "n+1" {
		return nil, errNotNIfTI
	}

	hdr := &niftiHeader{order: order}
	for i := range hdr.dims {
		hdr.dims[i] = int(int16(order.Uint16(raw[40+2*i:])))
	}
	hdr.datatype = int(int16(order.Uint16(raw[70:72])))
	hdr.bitpix = int(int16(order.Uint16(raw[72:74])))
	hdr.voxOffset = int(math.Float32frombits(order.Uint32(raw[108:112])))

	if hdr.dims[0] < 2 || hdr.dims[0] > 7 {
		return nil, fmt.Errorf("unsupported NIfTI dimensionality %d", hdr.dims[0])
	}
	if hdr.dims[1] <= 0 || hdr.dims[2] <= 0 || hdr.dims[1]*hdr.dims[2] > MaxPixels {
		return nil, fmt.Errorf("invalid NIfTI slice size %dx%d", hdr.dims[1], hdr.dims[2])
	}
	if hdr.voxOffset < niftiHeaderSize {
		hdr.voxOffset = 352
	}
	want := map[int]int{
		niftiUint8: 8, niftiInt8: 8, niftiInt16: 16, niftiUint16: 16,
		niftiInt32: 32, niftiUint32: 32, niftiFloat32: 32, niftiFloat64: 64,
	}
	bits, ok := want[hdr.datatype]
	if !ok {
		return nil, fmt.Errorf("unsupported NIfTI datatype %d", hdr.datatype)
	}
	hdr.bitpix = bits
	return hdr, nil
}

func niftiValue(b []byte, datatype int, order binary.ByteOrder) float64 {
	switch datatype {
	case niftiUint8:
		return float64(b[0])
	case niftiInt8:
		return float64(int8(b[0]))
	case niftiInt16:
		return float64(int16(order.Uint16(b)))
	case niftiUint16:
		return float64(order.Uint16(b))
	case niftiInt32:
		return float64(int32(order.Uint32(b)))
	case niftiUint32:
		return float64(order.Uint32(b))
	case niftiFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case niftiFloat64:
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

// sliceToGray windows the slice to 0..255. NIfTI rows run bottom-up, so the
// slice is flipped for display.
func sliceToGray(values []float64, nx, ny int) *image.Gray {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	img := image.NewGray(image.Rect(0, 0, nx, ny))
	span := hi - lo
	if span <= 0 || math.IsInf(span, 0) || math.IsNaN(span) {
		return img
	}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			v := values[j*nx+i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			img.SetGray(i, ny-1-j, color.Gray{Y: uint8(math.Round((v - lo) / span * 255))})
		}
	}
	return img
}
