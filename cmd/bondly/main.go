package main

import "github.com/bondly/bondly/internal/cli"

func main() {
	cli.Execute()
}
