package main

import "github.com/jmehdipour/hookrelay/cmd"

func main() {
	cmd.Execute()
}
