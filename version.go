package main

import (
	"fmt"
	"runtime"

	"github.com/edgecache/imgcache/internal/version"
)

// printVersion 输出版本、提交以及构建所用的 Go 版本与平台。
func printVersion() {
	fmt.Fprintf(stdOut, "%s %s %s/%s\n", version.Full(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
