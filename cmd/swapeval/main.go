package main

import "github.com/mchmarny/swapeval/pkg/cli"

func main() {
	cli.Execute()
}
