package datastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore 是基于本地目录的 BlobStore 实现，用于单机部署和测试。
type LocalStore struct {
	root string
}

// NewLocalStore 创建一个以 root 为根目录的 LocalStore，目录不存在时会被创建。
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory '%s': %w", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

// Root 返回存储根目录。
func (s *LocalStore) Root() string {
	return s.root
}

// localPath 将对象路径映射到 base 下的本地路径，拒绝越出 base 的路径。
func localPath(base, object string) (string, error) {
	p := filepath.Join(base, filepath.FromSlash(object))
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' escapes '%s'", object, base)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	return p, nil
}

func (s *LocalStore) resolve(object string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(object))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' escapes the data directory", object)
	}
	return p, nil
}

// List 列出以 prefix 开头的对象。
func (s *LocalStore) List(_ context.Context, prefix string, recursive bool) ([]string, error) {
	var objects []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			objects = append(objects, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(objects)
	if recursive {
		return objects, nil
	}
	return collapse(prefix, objects), nil
}

// StoreFileOrFolder 复制单个文件或整个目录。
func (s *LocalStore) StoreFileOrFolder(_ context.Context, targetPath, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return s.copyIn(targetPath, srcPath)
	}
	prefix := FolderPrefix(targetPath)
	return filepath.WalkDir(srcPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcPath, p)
		if err != nil {
			return err
		}
		return s.copyIn(prefix+filepath.ToSlash(rel), p)
	})
}

func (s *LocalStore) copyIn(object, src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	dst, err := localPath(s.root, object)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// StoreObject 写入内存数据。本地存储不保存内容类型。
func (s *LocalStore) StoreObject(_ context.Context, targetPath string, data []byte, fileName, mimeType string) error {
	dst, err := localPath(s.root, targetPath)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// LoadObjectToMemory 读取单个对象。
func (s *LocalStore) LoadObjectToMemory(_ context.Context, objectPath string) ([]byte, error) {
	p, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// LoadObjectToFile 将对象复制到 savePath。
func (s *LocalStore) LoadObjectToFile(ctx context.Context, objectPath, savePath string) (string, error) {
	data, err := s.LoadObjectToMemory(ctx, objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(savePath, data, 0o644); err != nil {
		return "", err
	}
	return savePath, nil
}

// LoadFolderToFilesystem 将文件夹复制到 savePath。
func (s *LocalStore) LoadFolderToFilesystem(ctx context.Context, folderPath, savePath string) (string, error) {
	prefix := FolderPrefix(folderPath)
	objects, err := s.List(ctx, prefix, true)
	if err != nil {
		return "", err
	}
	if len(objects) == 0 {
		return "", ErrNotFound
	}
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return "", err
	}
	for _, object := range objects {
		if _, err := s.LoadObjectToFile(ctx, object, filepath.Join(savePath, filepath.FromSlash(strings.TrimPrefix(object, prefix)))); err != nil {
			return "", err
		}
	}
	return savePath, nil
}

// LoadFolderToMemory 读取文件夹下的全部对象。
func (s *LocalStore) LoadFolderToMemory(ctx context.Context, folderPath string) (map[string][]byte, error) {
	objects, err := s.List(ctx, FolderPrefix(folderPath), true)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, ErrNotFound
	}
	contents := make(map[string][]byte, len(objects))
	for _, object := range objects {
		data, err := s.LoadObjectToMemory(ctx, object)
		if err != nil {
			return nil, err
		}
		contents[object] = data
	}
	return contents, nil
}

// HealthCheck 检查根目录是否可访问。
func (s *LocalStore) HealthCheck(context.Context) error {
	_, err := os.Stat(s.root)
	return err
}
