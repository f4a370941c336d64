package main

import "github.com/ogulcanaydogan/costwatch/internal/cli"

func main() {
	cli.Execute()
}
