package main

import "github.com/MeKo-Tech/undistort/cmd/undistort/cmd"

func main() {
	cmd.Execute()
}
