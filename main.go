package main

import "climate-guard/internal/cli"

func main() {
	cli.Execute()
}
