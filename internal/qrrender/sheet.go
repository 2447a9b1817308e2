package qrrender

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

const (
	opSheet = "qrrender.sheet"

	pageWidthMM  = 100.0
	pageHeightMM = 150.0
	pageMarginMM = 6.0
	qrSizeMM     = 62.0
	sheetQRWidth = 600
	barcodeHigh  = 90
)

var errNoSheetLabels = errors.New("no labels to print")

// SheetLabel is one page of a printable label sheet.
type SheetLabel struct {
	Code         string
	ShippingMark string
	CargoCode    string
	Description  string
	Reference    string
	Destination  string
	Weight       *float64
	Volume       *float64
	BoxNumber    int
	TotalBoxes   int
}

// SheetBuilder lays out one label per page.
type SheetBuilder struct {
	renderer Renderer
	logger   *zap.Logger
}

func NewSheetBuilder(renderer Renderer, logger *zap.Logger) *SheetBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SheetBuilder{renderer: renderer, logger: logger}
}

// Write renders entries as a PDF into w.
func (b *SheetBuilder) Write(w io.Writer, title string, entries []SheetLabel) error {
	if len(entries) == 0 {
		return apperr.Validation(opSheet, "no_labels", errNoSheetLabels)
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: pageWidthMM, Ht: pageHeightMM},
	})
	pdf.SetTitle(title, true)
	pdf.SetCreator("888Cargo", true)
	pdf.SetMargins(pageMarginMM, pageMarginMM, pageMarginMM)
	pdf.SetAutoPageBreak(false, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for index, entry := range entries {
		if err := b.writePage(pdf, tr, entry, index+1, len(entries)); err != nil {
			return err
		}
	}

	if err := pdf.Output(w); err != nil {
		return apperr.New(opSheet, "pdf_output_failed", apperr.KindStorage, err)
	}
	return nil
}

func (b *SheetBuilder) writePage(pdf *fpdf.Fpdf, tr func(string) string, entry SheetLabel, page, pages int) error {
	pdf.AddPage()
	contentWidth := pageWidthMM - 2*pageMarginMM

	// header band
	pdf.SetFillColor(0x17, 0x24, 0x3f)
	pdf.Rect(0, 0, pageWidthMM, 18, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetXY(pageMarginMM, 4)
	pdf.CellFormat(contentWidth, 10, tr(orDash(entry.ShippingMark)), "", 0, "C", false, 0, "")

	img, err := b.renderer.Image(entry.Code, Options{Width: sheetQRWidth, Margin: DefaultMargin})
	if err != nil {
		return err
	}
	var qrPNG bytes.Buffer
	if err := png.Encode(&qrPNG, img); err != nil {
		return apperr.New(opSheet, "png_encode_failed", apperr.KindStorage, err)
	}
	qrName := fmt.Sprintf("qr-%d", page)
	pdf.RegisterImageOptionsReader(qrName, fpdf.ImageOptions{ImageType: "PNG"}, &qrPNG)
	pdf.ImageOptions(qrName, (pageWidthMM-qrSizeMM)/2, 21, qrSizeMM, qrSizeMM, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	pdf.SetTextColor(0x17, 0x24, 0x3f)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetXY(pageMarginMM, 85)
	pdf.CellFormat(contentWidth, 7, tr(fmt.Sprintf("Caja %d de %d", entry.BoxNumber, entry.TotalBoxes)), "", 1, "C", false, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 9)
	rows := [][2]string{
		{"Carga", entry.CargoCode},
		{"Descripción", entry.Description},
		{"Ref", entry.Reference},
		{"Destino", entry.Destination},
		{"Peso", formatMeasure(entry.Weight, "kg")},
		{"CBM", formatMeasure(entry.Volume, "m³")},
	}
	for _, row := range rows {
		pdf.SetX(pageMarginMM)
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(24, 5, tr(row[0]+":"), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.CellFormat(contentWidth-24, 5, tr(clip(orDash(row[1]), 48)), "", 1, "L", false, 0, "")
	}

	if strip, err := barcodePNG(entry.Code); err != nil {
		b.logger.Warn("label barcode skipped", zap.String("code", entry.Code), zap.Error(err))
	} else {
		barName := fmt.Sprintf("bar-%d", page)
		pdf.RegisterImageOptionsReader(barName, fpdf.ImageOptions{ImageType: "PNG"}, strip)
		pdf.ImageOptions(barName, pageMarginMM, 124, contentWidth, 12, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	}

	pdf.SetFont("Helvetica", "", 6)
	pdf.SetXY(pageMarginMM, 137)
	pdf.CellFormat(contentWidth, 4, tr(entry.Code), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "I", 7)
	pdf.SetXY(pageMarginMM, pageHeightMM-8)
	pdf.CellFormat(contentWidth, 4, fmt.Sprintf("QR %d de %d", page, pages), "", 0, "C", false, 0, "")

	if err := pdf.Error(); err != nil {
		return apperr.New(opSheet, "pdf_layout_failed", apperr.KindStorage, err)
	}
	return nil
}

func barcodePNG(code string) (*bytes.Buffer, error) {
	encoded, err := code128.Encode(code)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(encoded, encoded.Bounds().Dx()*2, barcodeHigh)
	if err != nil {
		return nil, err
	}
	// fpdf rejects 16-bit PNGs, which is what the barcode color model encodes to
	gray := image.NewGray(scaled.Bounds())
	draw.Draw(gray, gray.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, err
	}
	return &buf, nil
}

func formatMeasure(value *float64, unit string) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%.2f %s", *value, unit)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func clip(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
