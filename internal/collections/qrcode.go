package collections

import (
	"context"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/meshworks/backoffice/internal/shared"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// RenderQRCode encodes the stored payload of a QR code as a PNG image.
func (reg *Registry) RenderQRCode(ctx context.Context, id string, size int) ([]byte, error) {
	code, err := reg.QRCodes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return renderPNG(code.Payload, size)
}

func renderPNG(payload string, size int) ([]byte, error) {
	if size == 0 {
		size = defaultQRSize
	}
	if size < 64 || size > maxQRSize {
		return nil, shared.Invalid("size", fmt.Sprintf("must be between 64 and %d", maxQRSize))
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("collections: encode qr: %w", err)
	}
	return png, nil
}
