package main

import "github.com/campusgate/seuauth/cmd/seuauth/cmd"

func main() {
	cmd.Execute()
}
