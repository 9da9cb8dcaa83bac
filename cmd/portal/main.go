package main

import "github.com/swasthsaathi/portal/cmd/portal/cmd"

func main() {
	cmd.Execute()
}
