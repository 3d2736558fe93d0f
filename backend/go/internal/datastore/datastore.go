// Package datastore 提供数据集与模型制品的对象存储抽象。
// 路径统一使用 "/" 分隔，文件夹以 "/" 结尾的前缀表示。
package datastore

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotFound 表示请求的对象或文件夹不存在。该错误是永久性的，不应重试。
var ErrNotFound = errors.New("object not found")

// BlobStore 是数据集和模型制品的存储接口。
type BlobStore interface {
	// List 列出以 prefix 开头的对象。非递归时子目录以 "/" 结尾返回。
	List(ctx context.Context, prefix string, recursive bool) ([]string, error)
	// StoreFileOrFolder 将本地文件或整个目录上传到 targetPath。
	StoreFileOrFolder(ctx context.Context, targetPath, srcPath string) error
	// StoreObject 存储一段内存数据，mimeType 为空时根据内容检测。
	StoreObject(ctx context.Context, targetPath string, data []byte, fileName, mimeType string) error
	// LoadObjectToMemory 读取对象内容，不存在时返回 ErrNotFound。
	LoadObjectToMemory(ctx context.Context, objectPath string) ([]byte, error)
	// LoadObjectToFile 将对象保存到 savePath 并返回该路径，不存在时返回 ErrNotFound。
	LoadObjectToFile(ctx context.Context, objectPath, savePath string) (string, error)
	// LoadFolderToFilesystem 将文件夹下的所有对象保存到 savePath，文件夹为空或不存在时返回 ErrNotFound。
	LoadFolderToFilesystem(ctx context.Context, folderPath, savePath string) (string, error)
	// LoadFolderToMemory 读取文件夹下的所有对象，键为对象的完整路径。
	LoadFolderToMemory(ctx context.Context, folderPath string) (map[string][]byte, error)
}

// FolderPrefix 将文件夹路径规范化为以 "/" 结尾的前缀。
func FolderPrefix(folder string) string {
	folder = strings.TrimLeft(strings.ReplaceAll(folder, "\\", "/"), "/")
	if folder == "" || strings.HasSuffix(folder, "/") {
		return folder
	}
	return folder + "/"
}

// DatasetExists 判断名为 name 的数据集文件夹中是否至少有一个对象。
func DatasetExists(ctx context.Context, store BlobStore, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, nil
	}
	items, err := store.List(ctx, FolderPrefix(name), false)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// ListDatasets 返回根目录下的数据集名称。
func ListDatasets(ctx context.Context, store BlobStore) ([]string, error) {
	items, err := store.List(ctx, "", false)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if strings.HasSuffix(item, "/") {
			names = append(names, strings.TrimSuffix(item, "/"))
		}
	}
	return names, nil
}

// collapse 将递归列举的结果折叠为 prefix 下一层的条目。
func collapse(prefix string, objects []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj, prefix)
		entry := obj
		if i := strings.Index(rest, "/"); i >= 0 {
			entry = prefix + rest[:i+1]
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// detectMime 根据内容检测类型，无法判断时回退到文件扩展名。
func detectMime(data []byte, fileName string) string {
	mt := mimetype.Detect(data)
	if mt.Is("application/octet-stream") {
		if byExt := mime.TypeByExtension(path.Ext(fileName)); byExt != "" {
			return byExt
		}
	}
	return mt.String()
}
