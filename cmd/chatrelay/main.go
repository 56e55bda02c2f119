package main

import "github.com/jmcleod/chatrelay/cmd/chatrelay/cmd"

func main() {
	cmd.Execute()
}
