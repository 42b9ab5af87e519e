package main

import (
	"greeks-watch/internal/cli"
)

func main() {
	cli.Execute()
}
