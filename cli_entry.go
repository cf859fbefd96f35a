package main

import (
	"os"

	"github.com/3leaps/sfeed/internal/cli"
)

func init() {
	cli.Handler = run
}

func main() {
	os.Exit(cli.Main())
}
