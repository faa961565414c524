package api

import (
	"context"
	"io"

	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/service"
	"datamakelaar/pkg/writeback"
)

type mockService struct {
	DatasetsFunc func() ([]*dataset.Config, error)
	TemplateFunc func(ctx context.Context, env, key string, w io.Writer) (string, error)
	ValidateFunc func(ctx context.Context, env, key, source string, r io.Reader) (*service.Upload, error)
	UploadFunc   func(id string) (*service.Upload, error)
	SubmitFunc   func(ctx context.Context, id string, opts service.SubmitOptions) (*writeback.Result, error)
	Envs         []string
}

func (m *mockService) Datasets() ([]*dataset.Config, error) {
	return m.DatasetsFunc()
}
func (m *mockService) Environments() []string {
	return m.Envs
}
func (m *mockService) Template(ctx context.Context, env, key string, w io.Writer) (string, error) {
	return m.TemplateFunc(ctx, env, key, w)
}
func (m *mockService) Validate(ctx context.Context, env, key, source string, r io.Reader) (*service.Upload, error) {
	return m.ValidateFunc(ctx, env, key, source, r)
}
func (m *mockService) Upload(id string) (*service.Upload, error) {
	return m.UploadFunc(id)
}
func (m *mockService) Submit(ctx context.Context, id string, opts service.SubmitOptions) (*writeback.Result, error) {
	return m.SubmitFunc(ctx, id, opts)
}
