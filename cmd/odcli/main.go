package main

import "opendavinci/cmd/odcli/command"

func main() {
	command.Execute()
}
