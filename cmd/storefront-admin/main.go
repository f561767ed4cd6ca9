package main

import (
	"fmt"
	"os"

	"github.com/sakconstructions/storefront/pkg/cli"
)

func main() {
	root := cli.NewRootCommand(cli.DefaultOpener)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
