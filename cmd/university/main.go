// Package main は university サーバーのエントリーポイントです。
package main

import (
	"fmt"
	"os"
)

// ビルド時に埋め込まれるバージョン情報
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd := newRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
