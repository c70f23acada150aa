package main

import (
	"fmt"
	"os"

	"github.com/llmos-dev/llmos-actions/pkg/sdk"
)

func main() {
	root := buildRoot(func(addr string) (sdk.ActionService, error) {
		return sdk.Connect(addr)
	}, os.Stdout)

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
