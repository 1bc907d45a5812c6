// Package main is the entry point for the octobridge daemon and CLI.
package main

import "github.com/octobridge/octobridge/internal/cli"

func main() {
	cli.Execute()
}
