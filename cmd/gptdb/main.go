package main

import "github.com/favbox/gptdb/internal/cli"

func main() {
	cli.Execute()
}
