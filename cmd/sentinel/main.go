package main

import "github.com/ogulcanaydogan/ops-sentinel/internal/cli"

func main() {
	cli.Execute()
}
