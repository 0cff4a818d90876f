package sourceadapter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/fileid"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

// Filesystem serves objects from a local directory tree, rejecting any
// path that would escape the configured root (spec §4.2).
type Filesystem struct {
	Source sourceconfig.Source
	log    *zap.Logger
}

// NewFilesystem builds a Filesystem adapter for source, logging under log
// (nil is fine, see internal/logging.Named).
func NewFilesystem(source sourceconfig.Source, log *zap.Logger) *Filesystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Filesystem{Source: source, log: log.Named("source.fs").With(zap.String("source_id", source.ID))}
}

func (f *Filesystem) Download(ctx context.Context, id fileid.FileID) (*Result, error) {
	full := filepath.Join(f.Source.Path, filepath.FromSlash(string(id.Path)))

	root, err := filepath.Abs(f.Source.Path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "fs.download", err).WithSource(f.Source.ID)
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "fs.download", err).WithSource(f.Source.ID)
	}
	if !strings.HasPrefix(absFull, root+string(filepath.Separator)) && absFull != root {
		return nil, errs.New(errs.KindUpstream, "fs.download", "path escapes source root").WithSource(f.Source.ID)
	}

	file, err := os.Open(absFull)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.log.Debug("object not found", zap.String("path", string(id.Path)))
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindTransient, "fs.download", err).WithSource(f.Source.ID)
	}
	return &Result{Stream: file}, nil
}
