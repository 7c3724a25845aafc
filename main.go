package main

import "github.com/nerotrade/aaswap/cmd"

func main() {
	cmd.Execute()
}
