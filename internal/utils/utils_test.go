package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTransactionID(t *testing.T) {
	id := GenerateTransactionID()
	assert.Regexp(t, regexp.MustCompile(`^txn_\d+_\d{9}$`), id)
	assert.NotEqual(t, id, GenerateTransactionID())
}

func TestGenerateUUID(t *testing.T) {
	assert.Len(t, GenerateUUID(), 36)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	err := WriteJSON(rec, http.StatusConflict, ErrorResponse("Order closed", "order is not awaiting payment").WithCode("order_closed"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "order_closed", body.Code)
	assert.Equal(t, "order is not awaiting payment", body.Error)
}
