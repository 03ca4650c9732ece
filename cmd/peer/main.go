package main

import "github.com/dkeye/meshcall/internal/cli"

func main() {
	cli.Execute()
}
