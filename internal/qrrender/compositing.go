package qrrender

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

const (
	badgeFraction = 0.22
	badgeRing     = 6
)

var badgeColor = color.RGBA{R: 0x17, G: 0x24, B: 0x3f, A: 0xff}

// compositingRenderer draws a circular logo badge over the QR center.
// A logo that cannot be loaded degrades the image to a plain QR.
type compositingRenderer struct {
	plain    *plainRenderer
	logoPath string
	logos    *logoCache
	logger   *zap.Logger
}

func (r *compositingRenderer) Compositing() bool {
	return true
}

func (r *compositingRenderer) Render(text string, options Options) ([]byte, error) {
	img, err := r.Image(text, options)
	if err != nil {
		return nil, err
	}
	return encodePNG(img)
}

func (r *compositingRenderer) Image(text string, options Options) (image.Image, error) {
	logoPath := strings.TrimSpace(options.LogoPath)
	if logoPath == "" {
		logoPath = r.logoPath
	}
	if options.WithoutLogo || logoPath == "" {
		return r.plain.draw(text, options, false)
	}

	base, err := r.plain.draw(text, options, true)
	if err != nil {
		return nil, err
	}
	logo, err := r.logos.load(logoPath)
	if err != nil {
		r.logger.Warn("qr logo unavailable, rendering without logo",
			zap.String("logo_path", logoPath),
			zap.Error(err))
		return base, nil
	}
	drawBadge(base, logo)
	return base, nil
}

func drawBadge(dst *image.RGBA, logo image.Image) {
	bounds := dst.Bounds()
	size := bounds.Dx()
	logoSize := int(float64(size) * badgeFraction)
	if logoSize <= 0 {
		return
	}
	center := image.Pt(bounds.Min.X+size/2, bounds.Min.Y+bounds.Dy()/2)
	radius := logoSize/2 + badgeRing

	fillCircle(dst, center, radius, badgeColor)

	logoRect := image.Rect(
		center.X-logoSize/2, center.Y-logoSize/2,
		center.X-logoSize/2+logoSize, center.Y-logoSize/2+logoSize,
	)
	draw.CatmullRom.Scale(dst, logoRect, logo, logo.Bounds(), draw.Over, nil)
}

func fillCircle(dst *image.RGBA, center image.Point, radius int, fill color.RGBA) {
	limit := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > limit {
				continue
			}
			point := image.Pt(center.X+x, center.Y+y)
			if point.In(dst.Bounds()) {
				dst.SetRGBA(point.X, point.Y, fill)
			}
		}
	}
}

// logoCache keeps decoded logos by path. Failed loads are retried on the next call.
type logoCache struct {
	mu    sync.RWMutex
	cache map[string]image.Image
}

func newLogoCache() *logoCache {
	return &logoCache{cache: make(map[string]image.Image)}
}

func (c *logoCache) load(path string) (image.Image, error) {
	c.mu.RLock()
	logo, ok := c.cache[path]
	c.mu.RUnlock()
	if ok {
		return logo, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoded, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode logo: %w", err)
	}

	c.mu.Lock()
	c.cache[path] = decoded
	c.mu.Unlock()
	return decoded, nil
}
