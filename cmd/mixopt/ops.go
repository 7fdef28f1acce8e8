package main

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/andresuchdata/mixopt/internal/drive"
	"github.com/andresuchdata/mixopt/internal/repository/postgres"
	"github.com/andresuchdata/mixopt/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Download the input workbooks from Google Drive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "drive-folder-id",
				Usage:   "Drive folder holding the input files; defaults to drive.folder_id",
				EnvVars: []string{"MIXOPT_DRIVE_FOLDER_ID"},
			},
			&cli.StringFlag{
				Name:  "drive-folder-path",
				Usage: "Folder path from the drive root, used when no folder id is set",
			},
			&cli.StringFlag{
				Name:  "download-dir",
				Usage: "Local directory for the inputs; defaults to inputs.dir",
			},
			&cli.BoolFlag{
				Name:  "upload",
				Usage: "Also copy the inputs to object storage under storage.input_prefix",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)

			opts := drive.DownloadOptions{
				FolderID:    cfg.Drive.FolderID,
				FolderPath:  cfg.Drive.FolderPath,
				DownloadDir: cfg.Inputs.Dir,
				Names:       cfg.Inputs.Files,
			}
			if c.IsSet("drive-folder-id") {
				opts.FolderID = c.String("drive-folder-id")
			}
			if c.IsSet("drive-folder-path") {
				opts.FolderPath = c.String("drive-folder-path")
			}
			if c.IsSet("download-dir") {
				opts.DownloadDir = c.String("download-dir")
			}
			if opts.FolderID == "" && opts.FolderPath == "" {
				return fmt.Errorf("drive folder is required: set drive.folder_id or --drive-folder-id")
			}

			svc, err := drive.NewServiceFromConfig(c.Context, cfg.Drive)
			if err != nil {
				return fmt.Errorf("failed to create Drive service: %w", err)
			}

			log.Info().Str("folder", opts.FolderID+opts.FolderPath).Str("dir", opts.DownloadDir).Msg("Downloading inputs from Drive")
			paths, err := drive.NewDownloader(svc).DownloadInputs(c.Context, opts)
			if err != nil {
				return fmt.Errorf("failed to download files from Drive: %w", err)
			}
			if len(paths) == 0 {
				log.Warn().Msg("No input files found in Drive folder")
				return nil
			}

			tables := make([]string, 0, len(paths))
			for table := range paths {
				tables = append(tables, table)
			}
			sort.Strings(tables)
			for _, table := range tables {
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", table, paths[table])
			}

			if !c.Bool("upload") {
				return nil
			}
			store, err := storage.NewMinioClient(storage.ConfigFrom(cfg))
			if err != nil {
				return err
			}
			for _, table := range tables {
				data, err := os.ReadFile(paths[table])
				if err != nil {
					return err
				}
				key := path.Join(cfg.Storage.InputPrefix, filepath.Base(paths[table]))
				if err := store.UploadObject(c.Context, key, data); err != nil {
					return err
				}
				log.Info().Str("table", table).Str("key", key).Msg("Input uploaded")
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the optimization API over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "port",
				Usage: "Listen port; defaults to server.port",
			},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("port") {
				configFrom(c).Server.Port = c.String("port")
			}
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the run tables in Postgres",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "migrations-dir",
				Usage:   "Directory containing SQL migrations",
				Value:   "./scripts/migrations",
				EnvVars: []string{"MIGRATIONS_DIR"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			db, err := postgres.NewDB(&cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(c.Context, db, c.String("migrations-dir"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%d migrations applied\n", len(applied))
			return nil
		},
	}
}
