package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/ufindi/docintel/pkg/logger"
)

// TesseractEngine recognizes text with a local tesseract installation.
// gosseract clients are not safe for concurrent use, so one is created
// per call.
type TesseractEngine struct {
	languages []string
	logger    logger.Logger
}

func NewTesseractEngine(languages []string, log logger.Logger) *TesseractEngine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractEngine{languages: languages, logger: log}
}

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := encodePNG(img)
	if err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("set tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("load page into tesseract: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract recognition: %w", err)
	}

	e.logger.Debug("Tesseract recognition complete",
		logger.String("languages", strings.Join(e.languages, "+")),
		logger.Int("chars", len(text)),
	)
	return text, nil
}

func (e *TesseractEngine) Name() string { return "tesseract" }
