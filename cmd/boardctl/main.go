package main

import "pinboard/api/internal/cli"

func main() {
	cli.Execute()
}
