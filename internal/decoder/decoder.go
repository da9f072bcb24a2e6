// Package decoder implements the image decoder collaborator (spec.md
// section 6): raw icon bytes in, a display-ready decoded image out.
package decoder

import (
	"bytes"
	"image"
	_ "image/gif"  // register GIF decoding with image.Decode
	_ "image/jpeg" // register JPEG decoding with image.Decode
	"image/png"

	"github.com/sergeymakinen/go-ico"
	"golang.org/x/image/draw"

	"github.com/icovault/icovault/internal/domain/entity"
	"github.com/icovault/icovault/internal/domain/service"
)

var _ service.Decoder = Decoder{}

// Decoder decodes favicon bytes of unknown format (PNG, GIF, JPEG, or ICO)
// and resamples them to the requested size with CatmullRom interpolation,
// matching the resize quality the teacher uses for its own icon cache.
type Decoder struct{}

// New constructs a Decoder. It holds no state.
func New() *Decoder {
	return &Decoder{}
}

// Decode implements service.Decoder.
func (Decoder) Decode(data []byte, width, height int) (entity.DecodedImage, bool) {
	if len(data) == 0 || width <= 0 || height <= 0 {
		return entity.DecodedImage{}, false
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		img, err = ico.Decode(bytes.NewReader(data))
		if err != nil {
			return entity.DecodedImage{}, false
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	return entity.DecodedImage{
		Width:  width,
		Height: height,
		RGBA:   dst.Pix,
	}, true
}

// EncodePNG re-encodes a decoded RGBA image as PNG, for collaborators that
// need an on-disk or wire representation (e.g. a CLI export command).
func EncodePNG(img entity.DecodedImage) ([]byte, error) {
	rgba := &image.RGBA{
		Pix:    img.RGBA,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
