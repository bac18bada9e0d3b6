package imaging

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// decodeDICOM returns the first PixelData frame of a DICOM file, windowed to 8 bits.
func decodeDICOM(path string) (img image.Image, err error) {
	// The parser panics on some truncated files; treat that as a decode failure.
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("dicom parser panic: %v", r)
		}
	}()

	pixels, err := dicomPixelCount(path)
	if err != nil {
		return nil, err
	}
	if pixels <= 0 || pixels > MaxPixels {
		return nil, fmt.Errorf("dicom pixel count %d outside (0,%d]", pixels, MaxPixels)
	}

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse dicom: %w", err)
	}
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("find pixel data: %w", err)
	}
	if el.Value.ValueType() != dicom.PixelData {
		return nil, fmt.Errorf("pixel data element has value type %v", el.Value.ValueType())
	}

	info := dicom.MustGetPixelDataInfo(el.Value)
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("dicom has no frames")
	}
	frameImg, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if frameImg.Bounds().Empty() {
		return nil, fmt.Errorf("dicom frame has no pixels")
	}
	return stretchGray(frameImg), nil
}

// dicomPixelCount reads the header without pixel data and returns rows x columns x
// frames, so oversized frames are caught before the parser allocates them.
func dicomPixelCount(path string) (int64, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return 0, fmt.Errorf("parse dicom header: %w", err)
	}
	dim := func(t tag.Tag) (int64, error) {
		el, err := ds.FindElementByTag(t)
		if err != nil {
			return 0, fmt.Errorf("find %v: %w", t, err)
		}
		v := dicom.MustGetInts(el.Value)
		if len(v) == 0 {
			return 0, fmt.Errorf("%v is empty", t)
		}
		return int64(v[0]), nil
	}
	rows, err := dim(tag.Rows)
	if err != nil {
		return 0, err
	}
	cols, err := dim(tag.Columns)
	if err != nil {
		return 0, err
	}

	frames := int64(1)
	if el, err := ds.FindElementByTag(tag.NumberOfFrames); err == nil {
		if v := dicom.MustGetStrings(el.Value); len(v) > 0 {
			if n, err := strconv.ParseInt(strings.TrimSpace(v[0]), 10, 64); err == nil && n > 0 {
				frames = n
			}
		}
	}
	return rows * cols * frames, nil
}
