package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/service"
	"datamakelaar/pkg/spreadsheet"
	"datamakelaar/pkg/validate"
	"datamakelaar/pkg/vip"
	"datamakelaar/pkg/writeback"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var poDaken = &dataset.Config{
	Key:        "po_daken",
	Dataset:    "PO Daken",
	ObjectType: "Building",
	Attributes: []dataset.Column{{ExcelColumnName: "Dakpartner", AttributeName: "Dakpartner"}},
}

func do(t *testing.T, svc Service, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	GetRouter(svc).ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var e APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestHealth(t *testing.T) {
	rec := do(t, &mockService{Envs: []string{"acceptance"}}, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","environments":["acceptance"]}`, rec.Body.String())
}

func TestIndex(t *testing.T) {
	svc := &mockService{
		Envs:         []string{"acceptance", "production"},
		DatasetsFunc: func() ([]*dataset.Config, error) { return []*dataset.Config{poDaken}, nil },
	}
	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "PO Daken")
	assert.Contains(t, body, `/api/datasets/po_daken/template`)
	assert.Contains(t, body, "<option>production</option>")
}

func TestGetDatasets(t *testing.T) {
	tests := []struct {
		name       string
		fn         func() ([]*dataset.Config, error)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "empty",
			fn:         func() ([]*dataset.Config, error) { return nil, nil },
			wantStatus: http.StatusOK,
			wantBody:   `[]`,
		},
		{
			name:       "one",
			fn:         func() ([]*dataset.Config, error) { return []*dataset.Config{poDaken}, nil },
			wantStatus: http.StatusOK,
			wantBody:   `[{"key":"po_daken","dataset":"PO Daken","objectType":"Building","attributes":[{"excelColumnName":"Dakpartner","AttributeName":"Dakpartner"}]}]`,
		},
		{
			name:       "error",
			fn:         func() ([]*dataset.Config, error) { return nil, errors.New("disk on fire") },
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"code":"internal_error","message":"disk on fire"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, &mockService{DatasetsFunc: tt.fn}, httptest.NewRequest(http.MethodGet, "/api/datasets", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestGetTemplate(t *testing.T) {
	svc := &mockService{TemplateFunc: func(_ context.Context, env, key string, w io.Writer) (string, error) {
		switch key {
		case "po_daken":
			assert.Equal(t, "production", env)
			_, _ = io.WriteString(w, "xlsx-bytes")
			return "PO_Daken_Dataset.xlsx", nil
		case "empty":
			return "", spreadsheet.ErrNoObjects
		case "broken":
			return "", fmt.Errorf("get metadata: %w", &vip.APIError{StatusCode: 503, Body: "down"})
		}
		return "", fmt.Errorf("load %s: %w", key, dataset.ErrNotFound)
	}}

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/api/datasets/po_daken/template?env=production", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="PO_Daken_Dataset.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "xlsx-bytes", rec.Body.String())

	rec = do(t, svc, httptest.NewRequest(http.MethodGet, "/api/datasets/missing/template", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeDatasetNotFound, decodeError(t, rec).Code)

	rec = do(t, svc, httptest.NewRequest(http.MethodGet, "/api/datasets/empty/template", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeNoObjects, decodeError(t, rec).Code)

	rec = do(t, svc, httptest.NewRequest(http.MethodGet, "/api/datasets/broken/template", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, CodeUpstream, e.Code)
	assert.Equal(t, map[string]interface{}{"status": float64(503), "body": "down"}, e.Details)
}

func multipartRequest(t *testing.T, url, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("env", "acceptance"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPostUpload(t *testing.T) {
	svc := &mockService{ValidateFunc: func(_ context.Context, env, key, source string, r io.Reader) (*service.Upload, error) {
		b, _ := io.ReadAll(r)
		if string(b) == "garbage" {
			return nil, fmt.Errorf("%w: zip: not a valid zip file", spreadsheet.ErrInvalidWorkbook)
		}
		assert.Equal(t, "acceptance", env)
		assert.Equal(t, "po_daken", key)
		assert.Equal(t, "edited.xlsx", source)
		return &service.Upload{
			ID:      "u1",
			Dataset: key,
			Report:  &validate.Report{Critical: []validate.Issue{}, Warnings: []validate.Issue{}, RowCount: 1},
			Changes: []writeback.Change{},
		}, nil
	}}

	rec := do(t, svc, multipartRequest(t, "/api/datasets/po_daken/uploads", "file", "edited.xlsx", "xlsx"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	var u service.Upload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, 1, u.Report.RowCount)

	rec = do(t, svc, multipartRequest(t, "/api/datasets/po_daken/uploads", "file", "edited.xlsx", "garbage"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidFile, decodeError(t, rec).Code)

	rec = do(t, svc, multipartRequest(t, "/api/datasets/po_daken/uploads", "", "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/po_daken/uploads", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = do(t, svc, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUpload(t *testing.T) {
	svc := &mockService{UploadFunc: func(id string) (*service.Upload, error) {
		if id == "u1" {
			return &service.Upload{ID: "u1", Report: &validate.Report{}}, nil
		}
		return nil, service.ErrUploadNotFound
	}}

	rec := do(t, svc, httptest.NewRequest(http.MethodGet, "/api/uploads/u1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, svc, httptest.NewRequest(http.MethodGet, "/api/uploads/u2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeUploadNotFound, decodeError(t, rec).Code)
}

func TestPostSubmit(t *testing.T) {
	svc := &mockService{SubmitFunc: func(_ context.Context, id string, opts service.SubmitOptions) (*writeback.Result, error) {
		switch id {
		case "ok":
			assert.True(t, opts.All)
			assert.False(t, opts.Upsert)
			return &writeback.Result{Total: 2, Succeeded: 2, Updated: 2, Batches: 1, Failures: []writeback.Failure{}}, nil
		case "new":
			assert.True(t, opts.Upsert)
			return &writeback.Result{Total: 1, Succeeded: 1, Created: 1, Batches: 1, Failures: []writeback.Failure{}}, nil
		case "blocked":
			return nil, service.ErrBlocked
		case "done":
			return nil, service.ErrAlreadySubmitted
		case "partial":
			return &writeback.Result{Total: 4, Succeeded: 2, Failed: 2, Batches: 1, Aborted: true}, errors.New("batch 2: unavailable")
		}
		return nil, service.ErrUploadNotFound
	}}

	rec := do(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads/ok/submit?all=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var res writeback.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Succeeded)

	rec = do(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads/blocked/submit", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeValidationFailed, decodeError(t, rec).Code)

	rec = do(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads/done/submit", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeAlreadySubmitted, decodeError(t, rec).Code)

	rec = do(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads/partial/submit", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, CodeSubmitFailed, e.Code)
	assert.Equal(t, true, e.Details.(map[string]interface{})["aborted"])

	rec = do(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads/ok/submit?all=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads/new/submit?upsert=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	res = writeback.Result{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Created)

	rec = do(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads/new/submit?upsert=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "upsert must be a boolean", decodeError(t, rec).Message)
}

func TestErrorFor(t *testing.T) {
	status, e := errorFor(fmt.Errorf("wrapped: %w", service.ErrUnknownEnvironment))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeUnknownEnvironment, e.Code)
	assert.Equal(t, "unknown_environment: wrapped: unknown environment", e.Error())
}
