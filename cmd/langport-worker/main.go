// Package main is the entrypoint for the langport inference worker.
package main

import "github.com/langport/worker/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
