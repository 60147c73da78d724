package artifact

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// QRGenerator кодирует содержимое в PNG
type QRGenerator interface {
	Generate(content string) ([]byte, error)
}

type qrGenerator struct {
	size int
}

// NewQRGenerator size задаёт ширину PNG в пикселях
func NewQRGenerator(size int) QRGenerator {
	if size <= 0 {
		size = 256
	}
	return &qrGenerator{size: size}
}

func (g *qrGenerator) Generate(content string) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, g.size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
