package main

import "github.com/emiliopalmerini/mltrackr/internal/cli"

func main() {
	cli.Execute()
}
