package main

import "docbot/internal/cli"

func main() {
	cli.Execute()
}
