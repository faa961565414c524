// Package service wires dataset configs, the VIP API and the spreadsheet
// round trip into the operations the HTTP server and the CLI expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"datamakelaar/pkg/config"
	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/schema"
	"datamakelaar/pkg/spreadsheet"
	"datamakelaar/pkg/validate"
	"datamakelaar/pkg/vip"
	"datamakelaar/pkg/writeback"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrUploadNotFound     = errors.New("upload not found")
	ErrBlocked            = errors.New("upload has critical validation issues")
	ErrAlreadySubmitted   = errors.New("upload was already submitted")
)

// Backend is the VIP API as used by the service.
type Backend interface {
	GetMetadata(ctx context.Context, objectType string) (*vip.Metadata, error)
	GetAllObjects(ctx context.Context, query vip.ObjectQuery) ([]vip.Object, error)
	UpdateObjects(ctx context.Context, objects []vip.Object) ([]vip.ObjectResult, error)
	UpsertObjects(ctx context.Context, objects []vip.Object) ([]vip.ObjectResult, error)
}

// Datasets gives access to the dataset configs.
type Datasets interface {
	Load(key string) (*dataset.Config, error)
	List() ([]*dataset.Config, error)
}

type Options struct {
	PageSize   int
	BatchSize  int
	MaxRetries int
	// Pause between retries of a failed batch, multiplied by the attempt.
	Pause     time.Duration
	UploadTTL time.Duration
}

type Service struct {
	datasets   Datasets
	backends   map[string]Backend
	defaultEnv string
	opts       Options
	uploads    *Store
}

func New(datasets Datasets, backends map[string]Backend, defaultEnv string, opts Options) *Service {
	return &Service{
		datasets:   datasets,
		backends:   backends,
		defaultEnv: defaultEnv,
		opts:       opts,
		uploads:    NewStore(opts.UploadTTL),
	}
}

// FromConfig creates a VIP client for every environment whose settings are
// complete. Incomplete environments are skipped with a warning.
func FromConfig(cfg *config.Config) *Service {
	backends := map[string]Backend{}
	for _, name := range cfg.EnvironmentNames() {
		env, _ := cfg.Environment(name)
		if err := env.Validate(); err != nil {
			log.Warnf("Environment %s disabled: %v", name, err)
			continue
		}
		backends[name] = vip.NewClient(env, vip.WithRetries(cfg.MaxRetries, time.Second))
	}
	return New(dataset.NewLoader(cfg.DatasetDir), backends, cfg.DefaultEnvironment, Options{
		PageSize:   cfg.PageSize,
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.MaxRetries,
		Pause:      writeback.DefaultPause,
		UploadTTL:  time.Duration(cfg.UploadTTLMinutes) * time.Minute,
	})
}

// Environments returns the names of the usable environments.
func (s *Service) Environments() []string {
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) backend(env string) (string, Backend, error) {
	if env == "" {
		env = s.defaultEnv
	}
	b, ok := s.backends[env]
	if !ok {
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	return env, b, nil
}

func (s *Service) Datasets() ([]*dataset.Config, error) {
	return s.datasets.List()
}

// Export is a dataset's schema together with its current objects.
type Export struct {
	Config  *dataset.Config
	Schema  *schema.Schema
	Objects []vip.Object
}

// Export fetches the metadata and the objects of a dataset concurrently.
func (s *Service) Export(ctx context.Context, env, key string) (*Export, error) {
	cfg, err := s.datasets.Load(key)
	if err != nil {
		return nil, err
	}
	env, b, err := s.backend(env)
	if err != nil {
		return nil, err
	}

	var (
		md      *vip.Metadata
		objects []vip.Object
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		md, err = b.GetMetadata(gctx, cfg.ObjectType)
		return err
	})
	g.Go(func() error {
		var err error
		objects, err = b.GetAllObjects(gctx, vip.ObjectQuery{
			ObjectType: cfg.ObjectType,
			Attributes: cfg.AttributeNames(),
			OnlyActive: true,
			PageSize:   s.opts.PageSize,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sch, err := schema.Build(cfg, md)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"dataset":     cfg.Key,
		"environment": env,
		"objects":     len(objects),
	}).Info("Exported dataset")
	return &Export{Config: cfg, Schema: sch, Objects: objects}, nil
}

// Template writes the dataset's workbook to w and returns its file name.
func (s *Service) Template(ctx context.Context, env, key string, w io.Writer) (string, error) {
	exp, err := s.Export(ctx, env, key)
	if err != nil {
		return "", err
	}
	if err := spreadsheet.WriteTemplate(w, exp.Schema, exp.Objects); err != nil {
		return "", err
	}
	return spreadsheet.Filename(exp.Config.Dataset), nil
}

// Validate reads an uploaded workbook and stages it.
func (s *Service) Validate(ctx context.Context, env, key, source string, r io.Reader) (*Upload, error) {
	t, err := spreadsheet.ReadTable(r)
	if err != nil {
		return nil, err
	}
	return s.ValidateTable(ctx, env, key, source, t)
}

// ValidateTable checks t against the live schema and objects, works out the
// changes and stages the result under a new upload id.
func (s *Service) ValidateTable(ctx context.Context, env, key, source string, t *spreadsheet.Table) (*Upload, error) {
	exp, err := s.Export(ctx, env, key)
	if err != nil {
		return nil, err
	}
	if env == "" {
		env = s.defaultEnv
	}

	known := make(map[string]bool, len(exp.Objects))
	for _, o := range exp.Objects {
		known[o.Identifier] = true
	}
	u := &Upload{
		ID:          uuid.NewString(),
		Dataset:     exp.Config.Key,
		Environment: env,
		Source:      source,
		CreatedAt:   time.Now(),
		Report:      validate.Table(exp.Schema, t, validate.Options{KnownIdentifiers: known}),
		Changes:     []writeback.Change{},
	}
	if u.Report.OK() {
		records, err := writeback.ToObjects(exp.Schema, t)
		if err != nil {
			return nil, err
		}
		u.Records = records
		if changes := writeback.Diff(exp.Schema, records, exp.Objects); changes != nil {
			u.Changes = changes
		}
	}
	s.uploads.Put(u)

	log.WithFields(log.Fields{
		"upload":   u.ID,
		"dataset":  u.Dataset,
		"rows":     u.Report.RowCount,
		"critical": len(u.Report.Critical),
		"warnings": len(u.Report.Warnings),
		"changes":  len(u.Changes),
	}).Info("Validated upload")
	return s.uploads.Get(u.ID)
}

func (s *Service) Upload(id string) (*Upload, error) {
	return s.uploads.Get(id)
}

// SubmitOptions selects what Submit sends and how.
type SubmitOptions struct {
	// All sends every row instead of only the changed ones.
	All bool
	// Upsert creates objects that do not exist in VIP yet.
	Upsert bool
}

// Submit pushes a staged upload to VIP. Only changed objects are sent
// unless opts.All is set.
func (s *Service) Submit(ctx context.Context, id string, opts SubmitOptions) (*writeback.Result, error) {
	var (
		env     string
		objects []vip.Object
	)
	err := s.uploads.Update(id, func(u *Upload) error {
		if !u.Report.OK() {
			return ErrBlocked
		}
		if u.Submitted || u.submitting {
			return ErrAlreadySubmitted
		}
		u.submitting = true
		env = u.Environment
		if opts.All {
			objects = writeback.RecordObjects(u.Records)
		} else {
			objects = writeback.Objects(u.Changes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, subErr := s.submit(ctx, id, env, opts.Upsert, objects)

	if err := s.uploads.Update(id, func(u *Upload) error {
		u.submitting = false
		u.Result = res
		u.Submitted = subErr == nil
		return nil
	}); err != nil {
		// expired while the batches were running
		log.WithField("upload", id).Warnf("Could not record submit result: %v", err)
	}
	return res, subErr
}

func (s *Service) submit(ctx context.Context, id, env string, upsert bool, objects []vip.Object) (*writeback.Result, error) {
	_, b, err := s.backend(env)
	if err != nil {
		return nil, err
	}
	sub := writeback.NewSubmitter(b, s.opts.BatchSize, s.opts.MaxRetries)
	sub.Pause = s.opts.Pause
	sub.Upsert = upsert
	sub.Progress = func(done, total int) {
		log.WithFields(log.Fields{"upload": id, "done": done, "total": total}).Info("Submit progress")
	}
	return sub.Submit(ctx, objects)
}
