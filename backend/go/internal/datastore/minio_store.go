package datastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
)

// MinioStore 是基于 MinIO 存储桶的 BlobStore 实现。
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 创建一个使用指定存储桶的 MinioStore。存储桶应已存在。
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

// List 列出以 prefix 开头的对象名称。
func (s *MinioStore) List(ctx context.Context, prefix string, recursive bool) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects under '%s': %w", prefix, obj.Err)
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

// StoreFileOrFolder 上传单个文件，或递归上传整个目录并保留相对路径。
func (s *MinioStore) StoreFileOrFolder(ctx context.Context, targetPath, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return s.putFile(ctx, targetPath, srcPath)
	}
	prefix := FolderPrefix(targetPath)
	return filepath.WalkDir(srcPath, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcPath, p)
		if err != nil {
			return err
		}
		return s.putFile(ctx, prefix+filepath.ToSlash(rel), p)
	})
}

func (s *MinioStore) putFile(ctx context.Context, object, file string) error {
	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(file); err == nil {
		contentType = mt.String()
	}
	if _, err := s.client.FPutObject(ctx, s.bucket, object, file, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("upload '%s': %w", object, err)
	}
	return nil
}

// StoreObject 上传内存中的数据。
func (s *MinioStore) StoreObject(ctx context.Context, targetPath string, data []byte, fileName, mimeType string) error {
	if mimeType == "" {
		mimeType = detectMime(data, fileName)
	}
	_, err := s.client.PutObject(ctx, s.bucket, targetPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return fmt.Errorf("store object '%s': %w", targetPath, err)
	}
	return nil
}

// LoadObjectToMemory 读取单个对象。
func (s *MinioStore) LoadObjectToMemory(ctx context.Context, objectPath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object '%s': %w", objectPath, err)
	}
	return data, nil
}

// LoadObjectToFile 下载单个对象到本地文件。
func (s *MinioStore) LoadObjectToFile(ctx context.Context, objectPath, savePath string) (string, error) {
	if err := s.client.FGetObject(ctx, s.bucket, objectPath, savePath, minio.GetObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("download '%s': %w", objectPath, err)
	}
	return savePath, nil
}

// LoadFolderToFilesystem 下载文件夹下的全部对象，保留相对目录结构。
func (s *MinioStore) LoadFolderToFilesystem(ctx context.Context, folderPath, savePath string) (string, error) {
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
		local, err := localPath(savePath, strings.TrimPrefix(object, prefix))
		if err != nil {
			return "", err
		}
		if err := s.client.FGetObject(ctx, s.bucket, object, local, minio.GetObjectOptions{}); err != nil {
			return "", fmt.Errorf("download '%s': %w", object, err)
		}
	}
	return savePath, nil
}

// LoadFolderToMemory 读取文件夹下的全部对象。
func (s *MinioStore) LoadFolderToMemory(ctx context.Context, folderPath string) (map[string][]byte, error) {
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

// HealthCheck 检查存储桶是否可访问。
func (s *MinioStore) HealthCheck(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("bucket " + s.bucket + " does not exist")
	}
	return nil
}
