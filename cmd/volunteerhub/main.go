// Command volunteerhub はボランティアイベント基盤のAPIサーバーを起動する。
//
// 使い方:
//
//	volunteerhub [serve|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/volunteerhub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "volunteerhub: %v\n", err)
		os.Exit(1)
	}
}
