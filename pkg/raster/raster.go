// Package raster turns uploaded document bytes into page images and
// probes PDFs for an embedded text layer.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// MaxPages bounds how many pages of one document are rasterized.
const MaxPages = 10

// Pages renders a document into page images. PDFs are rasterized page by
// page; plain images decode to a single page.
func Pages(data []byte, mimeType string) ([]image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("raster: empty document")
	}

	if isPDF(data, mimeType) {
		return pdfPages(data)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return []image.Image{img}, nil
}

func pdfPages(data []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n > MaxPages {
		n = MaxPages
	}

	pages := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("render pdf page %d: %w", i, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// TextLayer extracts a PDF's embedded text, if any. Scanned PDFs return
// an empty string, signalling that OCR is needed.
func TextLayer(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf for text: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text layer: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text layer: %w", err)
	}
	return string(text), nil
}

func isPDF(data []byte, mimeType string) bool {
	if strings.Contains(mimeType, "pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}
