package service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/models"
)

const maxArchiveEntrySize = 1 << 30

// UploadDataset extracts a zip archive and stores its content as the dataset
// folder name on the blob store. Existing datasets are not overwritten.
func (s *TaskService) UploadDataset(ctx context.Context, name string, archive io.ReaderAt, size int64) error {
	if !validDatasetName(name) {
		return validationf("Dataset name must be alphanumeric, got '%s'", name)
	}
	exists, err := datastore.DatasetExists(ctx, s.blobs, name)
	if err != nil {
		return fmt.Errorf("check dataset %s: %w", name, err)
	}
	if exists {
		return validationf("Dataset %s already exists", name)
	}

	zr, err := zip.NewReader(archive, size)
	if err != nil {
		return validationf("Could not read the uploaded archive: %s", err.Error())
	}

	tmp, err := os.MkdirTemp("", "chimp-upload-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	files, err := extractArchive(zr, tmp)
	if err != nil {
		return err
	}
	if files == 0 {
		return validationf("The uploaded archive is empty")
	}
	if err := s.blobs.StoreFileOrFolder(ctx, name, tmp); err != nil {
		return fmt.Errorf("store dataset %s: %w", name, err)
	}
	s.logger.WithPayload(map[string]interface{}{"dataset": name, "files": files}).Info("Dataset uploaded")
	return nil
}

func validDatasetName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// extractArchive 解压到 dst，拒绝越出 dst 的条目。
func extractArchive(zr *zip.Reader, dst string) (int, error) {
	count := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(filepath.Base(f.Name), "__MACOSX") {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(f.Name))
		rel, err := filepath.Rel(dst, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return 0, validationf("Archive entry '%s' escapes the dataset folder", f.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return 0, err
		}
		if err := extractFile(f, target); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return validationf("Could not read archive entry '%s': %s", f.Name, err.Error())
	}
	defer rc.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(rc, maxArchiveEntrySize)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DatasetFiles lists the objects of one dataset.
func (s *TaskService) DatasetFiles(ctx context.Context, name string) ([]string, error) {
	items, err := s.blobs.List(ctx, datastore.FolderPrefix(name), true)
	if err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to list dataset")
		return nil, err
	}
	if len(items) == 0 {
		return nil, datastore.ErrNotFound
	}
	return items, nil
}
