package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/knowledge"
)

// maxIngestFileSize skips files too large to embed usefully.
const maxIngestFileSize = 1 << 20 // 1 MiB

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Index files or directories into the knowledge base",
	Long: `Ingest reads the given files (or walks the given directories) and
stores each file as a document in the knowledge base, embedding its
content for similarity search. Document ids are the cleaned file
paths, so re-running ingest updates documents in place.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label stored with each document")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(paths []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("ingest requires postgres storage, configured storage is %q", cfg.Storage)
	}

	ctx := context.Background()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	files, err := collectFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no ingestible files under %v", paths)
	}

	var indexed int
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if len(content) == 0 {
			logger.Debug("skipping empty file", "path", path)
			continue
		}

		doc := knowledge.Document{
			ID:      filepath.Clean(path),
			Source:  ingestSource,
			Content: string(content),
		}
		if err := a.Knowledge.Upsert(ctx, doc); err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		indexed++
		logger.Info("indexed document", "id", doc.ID, "bytes", len(content))
	}

	fmt.Printf("Indexed %d document(s)\n", indexed)
	return nil
}

// collectFiles expands the given paths into a flat list of regular
// files, walking directories and skipping hidden entries and files
// over the size limit.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}

		if !info.IsDir() {
			if info.Size() <= maxIngestFileSize {
				files = append(files, root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") && path != root {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if fi.Size() > maxIngestFileSize {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	return files, nil
}
