// Command rhodos はマルチテナントSNSバックエンドを起動する。
//
// サブコマンド: serve（既定）, worker, migrate, healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/rhodos/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rhodos: %v\n", err)
		os.Exit(1)
	}
}
