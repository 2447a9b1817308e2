// Package qrrender turns label codes into PNG QR images and printable label sheets.
package qrrender

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

const (
	opRender  = "qrrender.render"
	opPrepare = "qrrender.prepare"

	DefaultWidth  = 300
	DefaultMargin = 2
	maxMargin     = 40
)

var (
	errEmptyContent = errors.New("content is empty")
	errInvalidMarg  = errors.New("margin must be between 0 and 40")
)

// Limits bounds the content accepted for encoding.
type Limits struct {
	// PlainBudget is the byte ceiling for images without a logo.
	PlainBudget int
	// LogoBudget is the byte ceiling when a logo is composited.
	LogoBudget int
	// TruncateRunes is the length over-budget content is cut to.
	TruncateRunes int
	// HighRecoveryMax is the largest content encoded at the highest recovery level.
	HighRecoveryMax int
	// MaxWidth caps the requested image width in pixels.
	MaxWidth int
}

// DefaultLimits returns the production encoding limits.
func DefaultLimits() Limits {
	return Limits{
		PlainBudget:     2300,
		LogoBudget:      1200,
		TruncateRunes:   100,
		HighRecoveryMax: 1200,
		MaxWidth:        1024,
	}
}

// orDefaults fills unset limits from DefaultLimits.
func (l Limits) orDefaults() Limits {
	defaults := DefaultLimits()
	if l.PlainBudget <= 0 {
		l.PlainBudget = defaults.PlainBudget
	}
	if l.LogoBudget <= 0 {
		l.LogoBudget = defaults.LogoBudget
	}
	if l.TruncateRunes <= 0 {
		l.TruncateRunes = defaults.TruncateRunes
	}
	if l.HighRecoveryMax <= 0 {
		l.HighRecoveryMax = defaults.HighRecoveryMax
	}
	if l.MaxWidth <= 0 {
		l.MaxWidth = defaults.MaxWidth
	}
	return l
}

// Options controls one rendering.
type Options struct {
	Width      int
	Margin     int
	Foreground color.Color
	Background color.Color
	// LogoPath overrides the configured logo. WithoutLogo disables it.
	LogoPath    string
	WithoutLogo bool
}

// Renderer encodes text into a PNG QR image.
type Renderer interface {
	Render(text string, options Options) ([]byte, error)
	// Image returns the raster before PNG encoding.
	Image(text string, options Options) (image.Image, error)
	Compositing() bool
}

// Config selects and configures a renderer.
type Config struct {
	Compositing bool
	LogoPath    string
	Limits      Limits
	Logger      *zap.Logger
}

// New returns the compositing renderer when enabled, otherwise the plain one.
func New(cfg Config) Renderer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limits := cfg.Limits.orDefaults()
	plain := &plainRenderer{limits: limits}
	if !cfg.Compositing {
		logger.Info("qr renderer selected", zap.String("renderer", "plain"))
		return plain
	}
	logger.Info("qr renderer selected",
		zap.String("renderer", "compositing"),
		zap.String("logo_path", cfg.LogoPath))
	return &compositingRenderer{
		plain:    plain,
		logoPath: cfg.LogoPath,
		logos:    newLogoCache(),
		logger:   logger,
	}
}

// PrepareContent applies the byte budget and picks the recovery level.
// The returned flag reports whether the content was truncated.
func PrepareContent(text string, withLogo bool, limits Limits) (string, qrcode.RecoveryLevel, bool, error) {
	if text == "" {
		return "", qrcode.Medium, false, apperr.Validation(opPrepare, "empty_content", errEmptyContent)
	}
	budget := limits.PlainBudget
	if withLogo {
		budget = limits.LogoBudget
	}

	content := text
	truncated := false
	if len(content) > budget {
		content = truncateRunes(content, limits.TruncateRunes)
		truncated = true
		if len(content) > budget {
			return "", qrcode.Medium, truncated, apperr.New(opPrepare, "payload_too_large", apperr.KindPayloadTooLarge,
				fmt.Errorf("content of %d bytes exceeds budget of %d bytes", len(text), budget))
		}
	}

	level := qrcode.Medium
	if len(content) <= limits.HighRecoveryMax {
		level = qrcode.Highest
	}
	return content, level, truncated, nil
}

type plainRenderer struct {
	limits Limits
}

func (r *plainRenderer) Compositing() bool {
	return false
}

func (r *plainRenderer) Render(text string, options Options) ([]byte, error) {
	img, err := r.Image(text, options)
	if err != nil {
		return nil, err
	}
	return encodePNG(img)
}

func (r *plainRenderer) Image(text string, options Options) (image.Image, error) {
	return r.draw(text, options, false)
}

func (r *plainRenderer) draw(text string, options Options, withLogo bool) (*image.RGBA, error) {
	options = withDefaults(options)
	if options.Width <= 0 || options.Width > r.limits.MaxWidth {
		return nil, apperr.Validation(opRender, "invalid_width", fmt.Errorf("width must be between 1 and %d", r.limits.MaxWidth))
	}
	if options.Margin < 0 || options.Margin > maxMargin {
		return nil, apperr.Validation(opRender, "invalid_margin", errInvalidMarg)
	}

	content, level, _, err := PrepareContent(text, withLogo, r.limits)
	if err != nil {
		return nil, err
	}
	code, err := qrcode.New(content, level)
	if err != nil {
		return nil, apperr.New(opRender, "encode_failed", apperr.KindPayloadTooLarge, err)
	}
	code.DisableBorder = true
	return rasterize(code.Bitmap(), options), nil
}

// rasterize scales the module grid by a whole number of pixels and centers it.
// The image grows past the requested width when modules would be under a pixel.
func rasterize(bitmap [][]bool, options Options) *image.RGBA {
	modules := len(bitmap) + 2*options.Margin
	scale := options.Width / modules
	if scale < 1 {
		scale = 1
	}
	size := options.Width
	if modules*scale > size {
		size = modules * scale
	}
	offset := (size - len(bitmap)*scale) / 2

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(options.Background), image.Point{}, draw.Src)
	foreground := image.NewUniform(options.Foreground)
	for y, row := range bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			cell := image.Rect(offset+x*scale, offset+y*scale, offset+(x+1)*scale, offset+(y+1)*scale)
			draw.Draw(img, cell, foreground, image.Point{}, draw.Src)
		}
	}
	return img
}

func withDefaults(options Options) Options {
	if options.Width == 0 {
		options.Width = DefaultWidth
	}
	if options.Foreground == nil {
		options.Foreground = color.Black
	}
	if options.Background == nil {
		options.Background = color.White
	}
	return options
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, apperr.New(opRender, "png_encode_failed", apperr.KindStorage, err)
	}
	return buf.Bytes(), nil
}
