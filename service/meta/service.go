// Package meta resolves and decodes configuration documents.  Locations are
// afs URLs, so configuration can live on local disk, in memory or in any
// supported object store; ${env.KEY} expressions are expanded before
// decoding.
package meta

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Service loads configuration documents relative to a base location.
type Service struct {
	fs      afs.Service
	baseURL string
	options []storage.Option
}

// New creates a meta service.  A nil fs falls back to the default afs
// service; an empty baseURL leaves locations untouched.
func New(fs afs.Service, baseURL string, options ...storage.Option) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, baseURL: baseURL, options: options}
}

// Load fetches the document at URI, expands environment expressions and
// decodes the YAML into target.
func (s *Service) Load(ctx context.Context, URI string, target any) error {
	location := URI
	if s.baseURL != "" && !strings.Contains(URI, "://") && !strings.HasPrefix(URI, "/") {
		location = url.Join(s.baseURL, URI)
	}
	data, err := s.fs.DownloadWithURL(ctx, location, s.options...)
	if err != nil {
		return fmt.Errorf("meta: failed to load %v: %w", location, err)
	}
	expanded := expandEnvExpr(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("meta: failed to decode %v: %w", location, err)
	}
	return nil
}

// Exists reports whether a document is present at URI.
func (s *Service) Exists(ctx context.Context, URI string) bool {
	location := URI
	if s.baseURL != "" && !strings.Contains(URI, "://") && !strings.HasPrefix(URI, "/") {
		location = url.Join(s.baseURL, URI)
	}
	ok, _ := s.fs.Exists(ctx, location)
	return ok
}
