package main

import "autoflow/cmd/cli"

func main() {
	cli.Execute()
}
