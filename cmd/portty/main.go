package main

import (
	"context"
	"os"

	"github.com/portty/portty/internal/cli"
	"github.com/portty/portty/internal/paths"
)

func main() {
	r := cli.NewRunner(paths.NewLayout(""), os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), os.Args[1:]))
}
