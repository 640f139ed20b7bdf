// Package main is the CLI command itself.
package main

import (
	"log"
	"os"

	stereocli "go.viam.com/stereo/cli"
)

func main() {
	app := stereocli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
