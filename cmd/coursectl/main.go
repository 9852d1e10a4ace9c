package main

import "github.com/coursemart/authclient/cmd/coursectl/cmd"

func main() {
	cmd.Execute()
}
