package main

import "github.com/iksnae/opencode-sync/cmd"

func main() {
	cmd.Execute()
}
