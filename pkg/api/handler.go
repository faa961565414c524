package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/service"
	"datamakelaar/pkg/writeback"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxUploadSize bounds the multipart form kept in memory.
const maxUploadSize = 32 << 20

// Service is what the handlers need from the service layer.
type Service interface {
	Datasets() ([]*dataset.Config, error)
	Environments() []string
	Template(ctx context.Context, env, key string, w io.Writer) (string, error)
	Validate(ctx context.Context, env, key, source string, r io.Reader) (*service.Upload, error)
	Upload(id string) (*service.Upload, error)
	Submit(ctx context.Context, id string, opts service.SubmitOptions) (*writeback.Result, error)
}

type handler struct {
	svc Service
}

func (h *handler) getHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"environments": h.svc.Environments(),
	})
}

func (h *handler) getDatasets(w http.ResponseWriter, r *http.Request) {
	configs, err := h.svc.Datasets()
	if err != nil {
		sendError(w, err)
		return
	}
	if configs == nil {
		configs = []*dataset.Config{}
	}
	sendJSON(w, http.StatusOK, configs)
}

func (h *handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "dataset")
	var buf bytes.Buffer
	name, err := h.svc.Template(r.Context(), r.URL.Query().Get("env"), key, &buf)
	if err != nil {
		sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *handler) postUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "dataset")
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		sendAPIError(w, http.StatusBadRequest, &APIError{Code: CodeInvalidRequest, Message: "expected a multipart form", Details: err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		sendAPIError(w, http.StatusBadRequest, &APIError{Code: CodeInvalidRequest, Message: "missing form field file"})
		return
	}
	defer file.Close()

	env := r.URL.Query().Get("env")
	if env == "" {
		env = r.FormValue("env")
	}
	log.Infof("Received upload %s for %s", header.Filename, key)
	u, err := h.svc.Validate(r.Context(), env, key, header.Filename, file)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, u)
}

func (h *handler) getUpload(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Upload(chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, u)
}

// boolParam reads an optional boolean query parameter.
func boolParam(r *http.Request, name string) (bool, *APIError) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &APIError{Code: CodeInvalidRequest, Message: name + " must be a boolean"}
	}
	return b, nil
}

func (h *handler) postSubmit(w http.ResponseWriter, r *http.Request) {
	var opts service.SubmitOptions
	var apiErr *APIError
	if opts.All, apiErr = boolParam(r, "all"); apiErr != nil {
		sendAPIError(w, http.StatusBadRequest, apiErr)
		return
	}
	if opts.Upsert, apiErr = boolParam(r, "upsert"); apiErr != nil {
		sendAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	res, err := h.svc.Submit(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil && res != nil {
		sendAPIError(w, http.StatusBadGateway, &APIError{Code: CodeSubmitFailed, Message: err.Error(), Details: res})
		return
	}
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Failed to encode response: %v", err)
		sendResponse(w, http.StatusInternalServerError, []byte(`{"code":"internal_error","message":"failed to encode response"}`))
		return
	}
	sendResponse(w, status, body)
}

func sendResponse(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func sendError(w http.ResponseWriter, err error) {
	status, apiErr := errorFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	}
	sendAPIError(w, status, apiErr)
}

func sendAPIError(w http.ResponseWriter, status int, e *APIError) {
	sendJSON(w, status, e)
}
