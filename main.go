package main

import "github.com/ziadeh/flowrecap/cmd"

func main() {
	cmd.Execute()
}
