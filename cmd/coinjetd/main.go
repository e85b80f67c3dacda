package main

import (
	"github.com/coinjet/coinjetd/internal/cli"
)

func main() {
	cli.Execute()
}
