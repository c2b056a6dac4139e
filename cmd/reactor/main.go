package main

import "github.com/vietddude/reactor/internal/cli"

func main() {
	cli.Execute()
}
