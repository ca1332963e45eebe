package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(buf *bytes.Buffer) map[string]interface{} {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	_ = json.Unmarshal([]byte(lines[len(lines)-1]), &entry)
	return entry
}

func TestInitWithWriter_AddsServiceField(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	InitWithWriter("bookreview-api", "debug", &buf)

	// Act
	Info().Str("book_id", "abc").Msg("rating recomputed")

	// Assert
	entry := lastLine(&buf)
	require.NotNil(t, entry)
	assert.Equal(t, "bookreview-api", entry["service"])
	assert.Equal(t, "abc", entry["book_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestInitWithWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("bookreview-api", "verbose", &buf)

	Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	Info().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestGinLoggerMiddleware_GeneratesRequestID(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	InitWithWriter("bookreview-api", "info", &buf)
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(GinLoggerMiddleware())
	router.GET("/api/books", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	// Act
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/books?page=2", nil)
	router.ServeHTTP(w, req)

	// Assert
	requestID := w.Header().Get(RequestIDHeader)
	assert.Len(t, requestID, 36)

	entry := lastLine(&buf)
	assert.Equal(t, requestID, entry["request_id"])
	assert.Equal(t, "/api/books", entry["path"])
	assert.Equal(t, "page=2", entry["query"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
}

func TestGinLoggerMiddleware_KeepsIncomingRequestID(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("bookreview-api", "info", &buf)
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(GinLoggerMiddleware())
	router.GET("/missing", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	entry := lastLine(&buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "req-42", entry["request_id"])
}
