// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register gif format
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
	"github.com/muesli/smartcrop/nfnt"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"  // register bmp format
	_ "golang.org/x/image/tiff" // register tiff format
	_ "golang.org/x/image/webp" // register webp format
)

// maxPixels is the largest source image, in pixels, that will be decoded.
const maxPixels = 50_000_000

// resample filter used when resizing images
var resampleFilter = imaging.Lanczos

// Options specifies the filter applied to every image.
type Options struct {
	Width  int // output width in pixels, 0 to preserve aspect ratio
	Height int // output height in pixels, 0 to preserve aspect ratio

	// Quality of the encoded JPEG, from 1 to 100.
	Quality int

	// Grayscale converts the image to shades of gray.
	Grayscale bool

	// SmartCrop crops the source to the output aspect ratio around its
	// most interesting region before resizing.  Without it, the image is
	// stretched to the output dimensions.
	SmartCrop bool
}

// DefaultOptions resizes to 256x256, converts to grayscale and encodes a
// JPEG at quality 60.
var DefaultOptions = Options{Width: 256, Height: 256, Quality: 60, Grayscale: true}

func (o Options) String() string {
	s := fmt.Sprintf("%dx%d,q%d", o.Width, o.Height, o.Quality)
	if o.Grayscale {
		s += ",gray"
	}
	if o.SmartCrop {
		s += ",sc"
	}
	return s
}

// Transform filters the provided image.  img should contain the raw bytes of
// an encoded image in one of the supported formats (bmp, gif, jpeg, png,
// tiff or webp).  The filtered image is returned JPEG encoded.
func Transform(img []byte, opt Options) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	m, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}

	m = fixOrientation(m, exifOrientation(bytes.NewReader(img)))
	m = transformImage(m, opt)

	quality := opt.Quality
	if quality < 1 || quality > 100 {
		quality = DefaultOptions.Quality
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, m, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// transformImage applies the crop, resize and color changes in opt to m.
func transformImage(m image.Image, opt Options) image.Image {
	w, h := opt.Width, opt.Height
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}

	if opt.SmartCrop && w > 0 && h > 0 {
		m = smartCrop(m, w, h)
	}

	if w != 0 || h != 0 {
		m = imaging.Resize(m, w, h, resampleFilter)
	}

	if opt.Grayscale {
		m = imaging.Grayscale(m)
	}

	return m
}

// smartCrop crops m to the aspect ratio of w:h, keeping the region the
// analyzer scores highest.  m is returned unchanged if analysis fails.
func smartCrop(m image.Image, w, h int) image.Image {
	analyzer := smartcrop.NewAnalyzer(nfnt.NewDefaultResizer())
	r, err := analyzer.FindBestCrop(m, w, h)
	if err != nil || r.Empty() {
		return m
	}
	return imaging.Crop(m, r)
}

// exifOrientation returns the EXIF orientation tag of the image in r, or 0
// if none can be read.
func exifOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	o, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return o
}

// fixOrientation rotates and flips m so that it displays upright for the
// given EXIF orientation.
func fixOrientation(m image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		m = imaging.FlipH(m)
	case 3:
		m = imaging.Rotate180(m)
	case 4:
		m = imaging.FlipV(m)
	case 5:
		m = imaging.Transpose(m)
	case 6:
		m = imaging.Rotate270(m)
	case 7:
		m = imaging.Transverse(m)
	case 8:
		m = imaging.Rotate90(m)
	}
	return m
}
