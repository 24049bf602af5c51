package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// sidecar 是索引文件的 JSON 结构：片段列表 + ContentInfo。
type sidecar struct {
	Fragments []ByteRange  `json:"fragments"`
	Info      *ContentInfo `json:"info,omitempty"`
}

// readSidecar 读取索引文件；文件不存在时返回空结构。
func readSidecar(path string) (sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sidecar{}, nil
		}
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, fmt.Errorf("decode index %s: %w", filepath.Base(path), err)
	}
	return sc, nil
}

// writeSidecar 通过临时文件 + rename 替换索引文件，失败时清理临时文件。
func writeSidecar(path string, sc sidecar) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
