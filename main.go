package main

import "github.com/iksnae/chatsync/cmd"

func main() {
	cmd.Execute()
}
