package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/reader/internal/validator"
	"github.com/pagewise/reader/pkg/logger"
)

func newInitRouter(limiter *validator.UploadLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewTestLogger()
	h := NewDocumentHandler(nil, nil, nil, nil, nil, nil, validator.NewUploadValidator(log, 0, 0), limiter, log)

	r := gin.New()
	r.POST("/upload/init", h.InitUpload)
	return r
}

func postInit(t *testing.T, r *gin.Engine, user string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/upload/init", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", user)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitUploadAccepts(t *testing.T) {
	r := newInitRouter(validator.NewUploadLimiter(10, 3))

	w := postInit(t, r, "user-1", map[string]any{
		"filename": "My Book.pdf",
		"mimeType": "application/pdf",
		"size":     1 << 20,
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pdf", resp["format"])
	assert.Equal(t, "My_Book.pdf", resp["filename"])
}

func TestInitUploadRejectsOversize(t *testing.T) {
	r := newInitRouter(validator.NewUploadLimiter(10, 3))

	w := postInit(t, r, "user-1", map[string]any{
		"filename": "big.pdf",
		"mimeType": "application/pdf",
		"size":     validator.MaxUploadBytes + 1,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestInitUploadRejectsUnsupportedType(t *testing.T) {
	r := newInitRouter(validator.NewUploadLimiter(10, 3))

	w := postInit(t, r, "user-1", map[string]any{
		"filename": "archive.tar.gz",
		"mimeType": "application/gzip",
		"size":     1024,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestInitUploadRateLimited(t *testing.T) {
	r := newInitRouter(validator.NewUploadLimiter(10, 2))

	body := map[string]any{
		"filename": "book.epub",
		"mimeType": "application/epub+zip",
		"size":     2048,
	}

	for i := 0; i < 2; i++ {
		w := postInit(t, r, "user-1", body)
		require.Equal(t, http.StatusOK, w.Code, "burst request %d", i)
	}

	w := postInit(t, r, "user-1", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Another user is unaffected.
	w = postInit(t, r, fmt.Sprintf("user-%d", 2), body)
	assert.Equal(t, http.StatusOK, w.Code)
}
