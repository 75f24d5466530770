package proxy

import "strings"

// CacheKey 去掉 rawPath 开头所有的 "/" 得到缓存 key。rawPath 应保持原始的百分号编码，
// 这样同一个 key 也能直接拼出源站地址。空 key、含 NUL 或 ".." 段的 key 返回 false。
func CacheKey(rawPath string) (string, bool) {
	key := strings.TrimLeft(rawPath, "/")
	if key == "" || strings.IndexByte(key, 0) >= 0 {
		return "", false
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", false
		}
	}
	return key, true
}
