package main

import "github.com/mpetrov/twofad/cmd/twofad/cmd"

func main() {
	cmd.Execute()
}
