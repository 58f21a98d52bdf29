package main

import "synmigrate/cmd"

func main() {
	cmd.Execute()
}
