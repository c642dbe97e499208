package main

import "chatsync/internal/cmd"

func main() {
	cmd.Execute()
}
