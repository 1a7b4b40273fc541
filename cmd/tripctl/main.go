package main

import "trainlog/cmd/tripctl/cmd"

func main() {
	cmd.Execute()
}
