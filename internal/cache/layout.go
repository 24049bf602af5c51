package cache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	indexSuffix  = ".index"
	maxExtLength = 16
)

// EntryName 返回 URL 对应的数据文件名：md5(url) 加上原始扩展名。
// 同一 URL 多次调用结果一致，保证全进程只对应一个缓存条目。
func EntryName(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	name := hex.EncodeToString(sum[:])
	if ext := urlExtension(rawURL); ext != "" {
		name += "." + ext
	}
	return name
}

// EntryPaths 返回数据文件与索引 sidecar 的绝对路径。
func EntryPaths(dir, rawURL string) (dataPath, indexPath string) {
	dataPath = filepath.Join(dir, EntryName(rawURL))
	return dataPath, dataPath + indexSuffix
}

// urlExtension 提取 URL 路径的扩展名，只保留字母数字，避免把查询串等带进文件名。
func urlExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(path.Ext(parsed.Path), ".")
	if ext == "" || len(ext) > maxExtLength {
		return ""
	}
	for _, r := range ext {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// DirSize 统计缓存目录下普通文件的逻辑大小总和，目录不存在时返回 0。
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk cache dir: %w", err)
	}
	return total, nil
}

// Purge 删除缓存目录下的全部内容，但保留目录本身。
func Purge(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list cache dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}
