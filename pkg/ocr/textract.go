package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/ufindi/docintel/pkg/logger"
)

// TextractEngine recognizes text through AWS Textract's synchronous
// DetectDocumentText API.
type TextractEngine struct {
	client *textract.Client
	logger logger.Logger
}

func NewTextractEngine(ctx context.Context, cfg Config, log logger.Logger) (*TextractEngine, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &TextractEngine{
		client: textract.NewFromConfig(awsCfg),
		logger: log,
	}, nil
}

func (e *TextractEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", err
	}

	out, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return "", fmt.Errorf("textract detect document text: %w", err)
	}

	var lines []string
	for _, block := range out.Blocks {
		if block.BlockType == types.BlockTypeLine && block.Text != nil {
			lines = append(lines, *block.Text)
		}
	}

	text := strings.Join(lines, "\n")
	e.logger.Debug("Textract recognition complete",
		logger.Int("blocks", len(out.Blocks)),
		logger.Int("chars", len(text)),
	)
	return text, nil
}

func (e *TextractEngine) Name() string { return "textract" }
