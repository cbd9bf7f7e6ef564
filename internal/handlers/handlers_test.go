package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/petclassify/internal/auth"
	"github.com/example/petclassify/internal/classifier"
	"github.com/example/petclassify/internal/features"
	"github.com/example/petclassify/internal/logging"
	"github.com/example/petclassify/internal/repository"
	"github.com/example/petclassify/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	classifyUser  string
	classifyBytes []byte
	classifyErr   error
	extractErr    error
	logs          map[string]*repository.ClassificationLog
	duplicates    []*repository.ClassificationLog
	metrics       *usecase.MetricsSummary
}

func (s *stubService) ClassifyImage(_ context.Context, userID string, imageBytes []byte) (string, *usecase.Result, error) {
	s.classifyUser = userID
	s.classifyBytes = imageBytes
	if s.classifyErr != nil {
		return "", nil, s.classifyErr
	}
	return "req-1", &usecase.Result{
		RequestID: "req-1",
		Features:  &features.Features{AspectRatio: 1, DominantColors: []features.ColorLabel{features.White}},
		Classification: classifier.Classification{
			Prediction:       classifier.Cat,
			Confidence:       0.8,
			ProcessingTimeMs: 200,
		},
	}, nil
}

func (s *stubService) ExtractFeatures(context.Context, []byte) (features.Features, error) {
	if s.extractErr != nil {
		return features.Features{}, s.extractErr
	}
	return features.Features{AspectRatio: 1.5, Brightness: 80, Contrast: 150, DominantColors: []features.ColorLabel{features.Brown}}, nil
}

func (s *stubService) GetResult(_ context.Context, userID, requestID string) (*repository.ClassificationLog, error) {
	log, ok := s.logs[requestID]
	if !ok || log.UserID != userID {
		return nil, usecase.ErrNotFound
	}
	return log, nil
}

func (s *stubService) GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error) {
	log, err := s.GetResult(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	return &usecase.DuplicateReport{Request: log, Duplicates: s.duplicates}, nil
}

func (s *stubService) GetMetricsSummary(context.Context) (*usecase.MetricsSummary, error) {
	if s.metrics == nil {
		return nil, errors.New("metrics unavailable")
	}
	return s.metrics, nil
}

func newTestRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, auth.JWTMiddleware(auth.NewValidator(testJWTSecret, "")), 0)
	return router
}

func TestClassifyRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(&stubService{})

	token := buildTestToken(t, "user-123")
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestClassifyRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(&stubService{})

	token := buildTestToken(t, "user-123")
	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestClassifyRequiresToken(t *testing.T) {
	router := newTestRouter(&stubService{})
	body, contentType := buildMultipartBody(t, "image/png", []byte("png"))

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestClassifySuccess(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)

	token := buildTestToken(t, "user-123")
	body, contentType := buildMultipartBody(t, "image/png", []byte("png-bytes"))

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if svc.classifyUser != "user-123" || string(svc.classifyBytes) != "png-bytes" {
		t.Fatalf("service received user %q bytes %q", svc.classifyUser, svc.classifyBytes)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["request_id"] != "req-1" || payload["prediction"] != "cat" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["processing_time_ms"] != 200.0 {
		t.Fatalf("unexpected processing time: %v", payload["processing_time_ms"])
	}
}

func TestClassifyReportsDecodeError(t *testing.T) {
	svc := &stubService{
		classifyErr: logging.NewOperationError("usecase.extract_features", "req-1", features.NewDecodeError(errors.New("bad"))),
	}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image/png", []byte("garbage"))
	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, resp.Code)
	}
}

func TestFeaturesEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		svc    *stubService
		status int
	}{
		{"success", &stubService{}, http.StatusOK},
		{"decode error", &stubService{extractErr: features.NewDecodeError(errors.New("bad"))}, http.StatusUnprocessableEntity},
		{"internal error", &stubService{extractErr: errors.New("boom")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.svc)
			body, contentType := buildMultipartBody(t, "image/png", []byte("png"))

			req := httptest.NewRequest(http.MethodPost, "/features", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.Code)
			}
			if tt.status == http.StatusOK {
				var f features.Features
				if err := json.Unmarshal(resp.Body.Bytes(), &f); err != nil {
					t.Fatalf("invalid json: %v", err)
				}
				if f.AspectRatio != 1.5 || f.DominantColors[0] != features.Brown {
					t.Fatalf("unexpected features: %+v", f)
				}
			}
		})
	}
}

func TestGetResultScopesToUser(t *testing.T) {
	svc := &stubService{logs: map[string]*repository.ClassificationLog{
		"req-1": {RequestID: "req-1", UserID: "owner", Prediction: "dog", Confidence: 0.9},
	}}
	router := newTestRouter(svc)

	tests := []struct {
		name   string
		user   string
		path   string
		status int
	}{
		{"owner", "owner", "/result/req-1", http.StatusOK},
		{"other user", "intruder", "/result/req-1", http.StatusNotFound},
		{"unknown id", "owner", "/result/missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+buildTestToken(t, tt.user))
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.Code)
			}
		})
	}
}

func TestDuplicateReport(t *testing.T) {
	svc := &stubService{
		logs: map[string]*repository.ClassificationLog{
			"req-2": {RequestID: "req-2", UserID: "owner", SHA1Hash: "abc"},
		},
		duplicates: []*repository.ClassificationLog{
			{RequestID: "req-1", UserID: "owner", SHA1Hash: "abc"},
		},
	}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/result/req-2/duplicates", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "owner"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var payload struct {
		Count      int                      `json:"count"`
		Duplicates []map[string]interface{} `json:"duplicates"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Count != 1 || payload.Duplicates[0]["request_id"] != "req-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc := &stubService{metrics: &usecase.MetricsSummary{TotalRequests: 4, CatCount: 1, DogCount: 3, CatRate: 0.25}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "owner"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var summary usecase.MetricsSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if summary.TotalRequests != 4 || summary.CatRate != 0.25 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestHealthIsPublic(t *testing.T) {
	router := newTestRouter(&stubService{})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
