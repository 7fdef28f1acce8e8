// Package drive pulls input workbooks from a Google Drive folder.
package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresuchdata/mixopt/internal/config"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	folderMimeType      = "application/vnd.google-apps.folder"
	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	xlsxMimeType        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	credentialsEnv = "GOOGLE_DRIVE_CREDENTIALS_JSON"
)

type Service struct {
	srv *drive.Service
}

// NewService authenticates with a service account key in JSON form.
func NewService(ctx context.Context, credentialsJSON string) (*Service, error) {
	jwtCfg, err := google.JWTConfigFromJSON(
		[]byte(credentialsJSON),
		drive.DriveReadonlyScope,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account credentials: %w", err)
	}

	client := jwtCfg.Client(ctx)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}

	return &Service{srv: srv}, nil
}

// NewServiceFromConfig reads the key from cfg.CredentialsFile, falling back
// to GOOGLE_DRIVE_CREDENTIALS_JSON.
func NewServiceFromConfig(ctx context.Context, cfg config.DriveConfig) (*Service, error) {
	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	return NewService(ctx, creds)
}

func credentials(cfg config.DriveConfig) (string, error) {
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read drive credentials: %w", err)
		}
		return string(data), nil
	}
	if creds := strings.TrimSpace(os.Getenv(credentialsEnv)); creds != "" {
		return creds, nil
	}
	return "", fmt.Errorf("drive credentials missing: set drive.credentials_file or %s", credentialsEnv)
}

type File struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
	Size         int64  `json:"size,string,omitempty"`
}

func (s *Service) ListFiles(ctx context.Context, folderID string) ([]*File, error) {
	var files []*File

	if folderID == "" {
		folderID = "root"
	}

	call := s.srv.Files.List().
		Context(ctx).
		Q(fmt.Sprintf("'%s' in parents and trashed=false", folderID)).
		Fields("nextPageToken, files(id, name, mimeType, modifiedTime, size)")
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			files = append(files, &File{
				ID:           f.Id,
				Name:         f.Name,
				MimeType:     f.MimeType,
				ModifiedTime: f.ModifiedTime,
				Size:         f.Size,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve files: %w", err)
	}

	return files, nil
}

// DownloadFile writes the content of a file to w. Native Google Sheets
// are exported as XLSX.
func (s *Service) DownloadFile(ctx context.Context, f *File, w io.Writer) error {
	var body io.ReadCloser
	if f.MimeType == spreadsheetMimeType {
		resp, err := s.srv.Files.Export(f.ID, xlsxMimeType).Context(ctx).Download()
		if err != nil {
			return fmt.Errorf("unable to export %s: %w", f.Name, err)
		}
		body = resp.Body
	} else {
		resp, err := s.srv.Files.Get(f.ID).Context(ctx).Download()
		if err != nil {
			return fmt.Errorf("unable to download %s: %w", f.Name, err)
		}
		body = resp.Body
	}
	defer body.Close()

	_, err := io.Copy(w, body)
	return err
}

// FindFolderByPath resolves a slash separated folder path from the drive
// root.
func (s *Service) FindFolderByPath(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "root", nil
	}

	folders := strings.Split(path, "/")
	currentID := "root"

	for _, folder := range folders {
		if folder == "" {
			continue
		}

		result, err := s.srv.Files.List().
			Context(ctx).
			Q(fmt.Sprintf("'%s' in parents and name='%s' and mimeType='%s' and trashed=false",
				currentID, strings.ReplaceAll(folder, "'", `\'`), folderMimeType)).
			Fields("files(id, name)").
			Do()
		if err != nil {
			return "", fmt.Errorf("error finding folder %s: %w", folder, err)
		}

		if len(result.Files) == 0 {
			return "", fmt.Errorf("folder not found: %s", folder)
		}

		currentID = result.Files[0].Id
	}

	return currentID, nil
}
