package middleware

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, seen *string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		*seen = string(data)
		c.String(http.StatusOK, strings.Repeat("x", 5000))
	})
	return r
}

func TestRequestLogger_BodyStillReadable(t *testing.T) {
	var seen string
	r := newEngine(t, &seen)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"query":"hi"}`, seen)
	assert.Len(t, w.Body.String(), 5000, "response is not truncated for the client")
}

func TestRequestLogger_MultipartIsPassedThrough(t *testing.T) {
	var seen string
	r := newEngine(t, &seen)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("payload"))
	require.NoError(t, mw.Close())
	raw := buf.String()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)

	assert.Equal(t, raw, seen)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate([]byte("abc")))
	long := truncate(bytes.Repeat([]byte("a"), maxLoggedBody+10))
	assert.True(t, strings.HasSuffix(long, "...(truncated)"))
	assert.Len(t, long, maxLoggedBody+len("...(truncated)"))
	assert.True(t, isMultipart("Multipart/form-data; boundary=x"))
	assert.False(t, isMultipart("application/json"))
}
