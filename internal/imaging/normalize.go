package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/nfnt/resize"
)

var (
	// ErrDecode reports image content that could not be turned into a buffer.
	ErrDecode = errors.New("image could not be decoded")

	// ErrUnsupportedFormat reports an extension outside the allow-list.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// MaxPixels bounds the pixel count of any decoded plane. Headers claiming more are
// rejected before pixel data is allocated.
const MaxPixels = 8192 * 8192

// FallbackWarning is attached to results analysed from a substituted blank buffer.
const FallbackWarning = "image could not be decoded; a blank input was analysed instead"

// Family groups extensions that share a decoding path.
type Family string

const (
	FamilyRaster     Family = "raster"
	FamilyDICOM      Family = "dicom"
	FamilyVolumetric Family = "volumetric"
)

var families = map[string]Family{
	"png":    FamilyRaster,
	"jpg":    FamilyRaster,
	"jpeg":   FamilyRaster,
	"dcm":    FamilyDICOM,
	"nii":    FamilyVolumetric,
	"nii.gz": FamilyVolumetric,
}

// FamilyOf maps a lower-case extension (without dot) to its family.
func FamilyOf(ext string) (Family, bool) {
	f, ok := families[strings.ToLower(ext)]
	return f, ok
}

// Normalized is a canonical buffer together with where it came from.
type Normalized struct {
	Buffer       *ImageBuffer
	Family       Family
	SourceWidth  int
	SourceHeight int
	Fallback     bool
	Warnings     []string
	Stats        Stats
}

// Normalizer converts image files into canonical ImageBuffers.
type Normalizer struct {
	interp resize.InterpolationFunction
}

func NewNormalizer() *Normalizer {
	return &Normalizer{interp: resize.Bilinear}
}

// Normalize decodes the file at path according to ext and resamples it to the
// canonical shape. Medical formats that cannot be decoded degrade to a zero buffer
// with Fallback set; raster formats return ErrDecode instead.
func (n *Normalizer) Normalize(path, ext string) (*Normalized, error) {
	family, ok := FamilyOf(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var (
		img image.Image
		err error
	)
	switch family {
	case FamilyRaster:
		img, err = decodeRGB(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	case FamilyDICOM:
		img, err = decodeDICOM(path)
		if err != nil {
			img, err = decodeGray(path)
		}
	case FamilyVolumetric:
		img, err = decodeNIfTI(path)
		if err != nil {
			img, err = decodeGray(path)
		}
	}

	if err != nil {
		buf := NewImageBuffer()
		return &Normalized{
			Buffer:   buf,
			Family:   family,
			Fallback: true,
			Warnings: []string{FallbackWarning},
			Stats:    ComputeStats(buf),
		}, nil
	}

	bounds := img.Bounds()
	buf := fromImage(resize.Resize(Size, Size, img, n.interp))
	return &Normalized{
		Buffer:       buf,
		Family:       family,
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
		Stats:        ComputeStats(buf),
	}, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("image dimensions %dx%d exceed limit", cfg.Width, cfg.Height)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}
	return img, nil
}

// decodeRGB flattens any alpha onto black and returns an opaque RGB raster.
func decodeRGB(path string) (image.Image, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Over)
	return rgba, nil
}

// decodeGray reads a generic raster as a single channel.
func decodeGray(path string) (image.Image, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray, nil
}

// stretchGray maps the full intensity range of img onto 0..255.
func stretchGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	lo, hi := uint16(0xffff), uint16(0)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}

	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	span := float64(hi) - float64(lo)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if span <= 0 {
				continue
			}
			v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
			out.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.Gray{Y: uint8((float64(v) - float64(lo)) / span * 255)})
		}
	}
	return out
}
