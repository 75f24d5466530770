package config

import (
	"os"
	"path/filepath"
	"testing"
)

func fixture(name string) string {
	return filepath.Join("testdata", name)
}

// writeTempConfig 把 TOML 片段写入临时目录，返回文件路径。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
