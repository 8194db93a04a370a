package main

import "github.com/deploymenttheory/go-blockinject/cmd"

func main() {
	cmd.Execute()
}
