package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

type QRGenerator struct {
	size  int
	level qrcode.RecoveryLevel
}

func NewQRGenerator(size int) *QRGenerator {
	if size <= 0 {
		size = defaultSize
	}
	return &QRGenerator{size: size, level: qrcode.Medium}
}

// Encode renders payload as a PNG QR image.
func (q *QRGenerator) Encode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("qr payload is empty")
	}
	return qrcode.Encode(payload, q.level, q.size)
}

// Size is the PNG edge length in pixels.
func (q *QRGenerator) Size() int {
	return q.size
}
