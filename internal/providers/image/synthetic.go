package image

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
)

const providerSynthetic = "synthetic"

// Synthetic renders a striped PNG whose palette is derived from the seed.
// It keeps the image stage working locally without provider credentials.
type Synthetic struct {
	Width  int
	Height int
}

func NewSynthetic() *Synthetic {
	return &Synthetic{Width: 512, Height: 512}
}

func (s *Synthetic) Name() string { return providerSynthetic }

func (s *Synthetic) Generate(ctx context.Context, prompt string, seed int64) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width, height := s.Width, s.Height
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 512
	}
	data, err := renderSyntheticImage(width, height, fmt.Sprintf("%012x", uint64(seed)^hashPrompt(prompt)))
	if err != nil {
		return nil, fmt.Errorf("synthetic: encode png: %w", err)
	}
	return &Asset{Data: data, Format: "image/png", Width: width, Height: height}, nil
}

func hashPrompt(prompt string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(prompt); i++ {
		h ^= uint64(prompt[i])
		h *= 1099511628211
	}
	return h & 0xffffffffffff
}

func renderSyntheticImage(width, height int, seed string) ([]byte, error) {
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &stdimage.Uniform{colorFromSeed(seed, 0)}, stdimage.Point{}, draw.Src)

	accent := colorFromSeed(seed, 1)
	stripeHeight := max(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := stdimage.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &stdimage.Uniform{accent}, stdimage.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for x := 0; x < max(width, height); x += max(16, width/32) {
		for y := 0; y < height && x+y < width; y++ {
			img.Set(x+y, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = fmt.Sprintf("%06s", seed)
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

var _ Generator = (*Synthetic)(nil)
