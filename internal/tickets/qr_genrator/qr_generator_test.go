package qr_test

import (
	"bytes"
	"image/png"
	"testing"

	qr "ms-booking/internal/tickets/qr_genrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeProducesPNG(t *testing.T) {
	gen := qr.NewQRGenerator(128)

	data, err := gen.Encode("3f1c|2|JaneDoe")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
}

func TestEncodeRejectsEmptyPayload(t *testing.T) {
	gen := qr.NewQRGenerator(0)

	_, err := gen.Encode("")
	assert.Error(t, err)
	assert.Equal(t, 256, gen.Size())
}
