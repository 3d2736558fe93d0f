package main

import "Chimp/client/chimpctl/cmd"

func main() {
	cmd.Execute()
}
