package handlers

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/example/skin-advisor/internal/catalog"
	"github.com/example/skin-advisor/internal/imaging"
	"github.com/example/skin-advisor/internal/usecase"
	"github.com/example/skin-advisor/internal/vision"
)

func newTestRouter(authMiddleware gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, &usecase.AnalysisUseCase{}, authMiddleware)
	return router
}

func multipartUpload(t *testing.T, field, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health body: %s", w.Body.String())
	}
}

func TestAnalyzeSkinRequiresFile(t *testing.T) {
	router := newTestRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analysis/analyze_skin", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "No file uploaded") {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}
}

func TestAnalyzeSkinRequiresFileField(t *testing.T) {
	router := newTestRouter(nil)

	body, contentType := multipartUpload(t, "image", "selfie.jpg", []byte("payload"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analysis/analyze_skin", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAnalyzeSkinRejectsOversizedUpload(t *testing.T) {
	router := newTestRouter(nil)

	body, contentType := multipartUpload(t, "file", "huge.jpg", make([]byte, MaxUploadSize+1))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analysis/analyze_skin", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestRecommendationsRequireSkinType(t *testing.T) {
	router := newTestRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/products/recommendations", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "skin_type is required") {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}
}

func TestResultRouteHasNoImplicitDefault(t *testing.T) {
	router := newTestRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/analysis/result", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAuthMiddlewareGuardsGroups(t *testing.T) {
	deny := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
	}
	router := newTestRouter(deny)

	for _, path := range []string{"/analysis/result/abc", "/products/recommendations?skin_type=oily", "/metrics/summary"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("path %s: got status %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}

	// Health stays open regardless of the auth setting.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health: got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported format", imaging.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{"wrapped unsupported format", fmt.Errorf("normalize: %w", imaging.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{"decode failure", imaging.ErrDecodeFailure, http.StatusUnprocessableEntity},
		{"empty skin type", catalog.ErrEmptySkinType, http.StatusBadRequest},
		{"catalog unavailable", catalog.ErrUnavailable, http.StatusServiceUnavailable},
		{"wrapped catalog unavailable", fmt.Errorf("%w: connection reset", catalog.ErrUnavailable), http.StatusServiceUnavailable},
		{"model inference failure", vision.ErrInference, http.StatusInternalServerError},
		{"unclassified", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusForError(tc.err); got != tc.want {
				t.Fatalf("got status %d, want %d", got, tc.want)
			}
		})
	}
}
