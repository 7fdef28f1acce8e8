package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/normalize"
	"github.com/andresuchdata/mixopt/internal/storage"
)

// optional tables may be absent from a source.
var optional = map[string]bool{
	normalize.TableOrders: true,
	normalize.TableDemand: true,
}

// ErrTableMissing is returned when a required table is absent.
var ErrTableMissing = errors.New("table missing")

type fetchFunc func(ctx context.Context, table string) (*normalize.Table, error)

// tables adapts a per-table fetch function to the collaborator methods
// the engine calls. Absent optional tables load as nil.
type tables struct {
	fetch fetchFunc
}

func (t tables) load(ctx context.Context, table string) (*normalize.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tb, err := t.fetch(ctx, table)
	if err != nil {
		if errors.Is(err, ErrTableMissing) && optional[table] {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	return tb, nil
}

// LoadStock returns the whole inventory table; the normalizer applies
// the filter.
func (t tables) LoadStock(ctx context.Context, _ normalize.StockFilter) (*normalize.Table, error) {
	return t.load(ctx, normalize.TableStock)
}

func (t tables) LoadClassMap(ctx context.Context) (*normalize.Table, error) {
	return t.load(ctx, normalize.TableClasses)
}

func (t tables) LoadOrders(ctx context.Context) (*normalize.Table, error) {
	return t.load(ctx, normalize.TableOrders)
}

func (t tables) LoadCompatibility(ctx context.Context) (*normalize.Table, error) {
	return t.load(ctx, normalize.TableCompatibility)
}

func (t tables) LoadPrices(ctx context.Context) (*normalize.Table, error) {
	return t.load(ctx, normalize.TablePrices)
}

func (t tables) LoadCosts(ctx context.Context) (*normalize.Table, error) {
	return t.load(ctx, normalize.TableCosts)
}

// LoadDemandHistory returns raw sales lines; bucketing by granularity
// happens in the metrics stage.
func (t tables) LoadDemandHistory(ctx context.Context, _ string) (*normalize.Table, error) {
	return t.load(ctx, normalize.TableDemand)
}

// FileLoader reads tables from files under a directory.
type FileLoader struct {
	tables
	dir   string
	files map[string]string
}

func NewFileLoader(dir string, files map[string]string) *FileLoader {
	l := &FileLoader{dir: dir, files: files}
	l.fetch = l.read
	return l
}

func (l *FileLoader) read(_ context.Context, table string) (*normalize.Table, error) {
	name, ok := l.files[table]
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: no file configured for %s", ErrTableMissing, table)
	}
	path := l.Path(table)
	t, err := ReadFile(path, table)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, path)
	}
	return t, err
}

// Path returns the file path configured for table.
func (l *FileLoader) Path(table string) string {
	return filepath.Join(l.dir, l.files[table])
}

// ObjectLoader reads tables from object storage under a key prefix.
type ObjectLoader struct {
	tables
	store  storage.ObjectStorage
	prefix string
	files  map[string]string
}

func NewObjectLoader(store storage.ObjectStorage, prefix string, files map[string]string) *ObjectLoader {
	l := &ObjectLoader{store: store, prefix: prefix, files: files}
	l.fetch = l.read
	return l
}

func (l *ObjectLoader) read(ctx context.Context, table string) (*normalize.Table, error) {
	name, ok := l.files[table]
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: no object configured for %s", ErrTableMissing, table)
	}
	key := l.prefix + name
	data, err := l.store.GetObject(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, key)
	}
	if err != nil {
		return nil, err
	}
	t, err := Read(bytes.NewReader(data), name, table)
	if err != nil {
		return nil, err
	}
	t.Source = key
	return t, nil
}

// Loader is the full set of collaborator methods every source offers.
type Loader interface {
	LoadStock(ctx context.Context, filter normalize.StockFilter) (*normalize.Table, error)
	LoadClassMap(ctx context.Context) (*normalize.Table, error)
	LoadOrders(ctx context.Context) (*normalize.Table, error)
	LoadCompatibility(ctx context.Context) (*normalize.Table, error)
	LoadPrices(ctx context.Context) (*normalize.Table, error)
	LoadCosts(ctx context.Context) (*normalize.Table, error)
	LoadDemandHistory(ctx context.Context, granularity string) (*normalize.Table, error)
}

// New builds the loader named by cfg.Inputs.Source. store is required
// for the storage source and ignored otherwise. The returned close
// function releases database connections.
func New(cfg *config.Config, store storage.ObjectStorage) (Loader, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Inputs.Source {
	case "file", "":
		return NewFileLoader(cfg.Inputs.Dir, cfg.Inputs.Files), noop, nil
	case "storage":
		if store == nil {
			return nil, noop, fmt.Errorf("inputs.source storage requires storage to be enabled")
		}
		return NewObjectLoader(store, cfg.Storage.InputPrefix, cfg.Inputs.Files), noop, nil
	case "postgres":
		l, err := OpenPostgresLoader(cfg.Database.DSN(), cfg.Inputs.Tables)
		if err != nil {
			return nil, noop, err
		}
		return l, l.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown input source %q", cfg.Inputs.Source)
	}
}
