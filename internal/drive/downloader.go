package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Files is the part of the Drive API the downloader needs.
type Files interface {
	ListFiles(ctx context.Context, folderID string) ([]*File, error)
	DownloadFile(ctx context.Context, f *File, w io.Writer) error
	FindFolderByPath(ctx context.Context, path string) (string, error)
}

// DownloadOptions controls how files are pulled from Google Drive.
type DownloadOptions struct {
	FolderID    string
	FolderPath  string // used when FolderID is empty
	DownloadDir string
	// Names are the input file names wanted, keyed by table. Matching
	// ignores case and extension so a native sheet named "estoque" serves
	// "estoque.xlsx".
	Names map[string]string
}

// Downloader fetches the input tables from a Drive folder.
type Downloader struct {
	files Files
}

// NewDownloader creates a new Downloader.
func NewDownloader(files Files) *Downloader {
	return &Downloader{files: files}
}

// DownloadInputs downloads the wanted files into DownloadDir, under their
// configured names, and returns the local paths keyed by table. Tables
// with no matching file are logged and left out.
func (d *Downloader) DownloadInputs(ctx context.Context, opts DownloadOptions) (map[string]string, error) {
	if opts.DownloadDir == "" {
		return nil, fmt.Errorf("download dir is required")
	}
	if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	folderID := opts.FolderID
	if folderID == "" && opts.FolderPath != "" {
		id, err := d.files.FindFolderByPath(ctx, opts.FolderPath)
		if err != nil {
			return nil, err
		}
		folderID = id
	}

	files, err := d.files.ListFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}
	byStem := make(map[string]*File, len(files))
	for _, f := range files {
		if f.MimeType == folderMimeType {
			continue
		}
		stem := fileStem(f.Name)
		// Prefer real files over native sheets with the same stem.
		if prev, ok := byStem[stem]; ok && prev.MimeType != spreadsheetMimeType {
			continue
		}
		byStem[stem] = f
	}

	tables := make([]string, 0, len(opts.Names))
	for table := range opts.Names {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	paths := make(map[string]string, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := opts.Names[table]
		f, ok := byStem[fileStem(name)]
		if !ok {
			log.Warn().Str("table", table).Str("file", name).Msg("drive: input file not found in folder")
			continue
		}
		if f.MimeType == spreadsheetMimeType && !strings.EqualFold(filepath.Ext(name), ".xlsx") {
			name = strings.TrimSuffix(name, filepath.Ext(name)) + ".xlsx"
		}

		localPath := filepath.Join(opts.DownloadDir, name)
		if err := d.download(ctx, f, localPath); err != nil {
			return nil, err
		}
		log.Info().Str("table", table).Str("file", f.Name).Str("path", localPath).Msg("drive: input downloaded")
		paths[table] = localPath
	}

	return paths, nil
}

func (d *Downloader) download(ctx context.Context, f *File, localPath string) error {
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	if err := d.files.DownloadFile(ctx, f, out); err != nil {
		out.Close()
		_ = os.Remove(localPath)
		return fmt.Errorf("failed to download %s: %w", f.Name, err)
	}
	return out.Close()
}

func fileStem(name string) string {
	name = strings.TrimSpace(name)
	return strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
}
