package main

import "github.com/vietddude/rescue/internal/cli"

func main() {
	cli.Execute()
}
