package main

import "github.com/vibast-solutions/ms-go-apiaccess/cmd"

func main() {
	cmd.Execute()
}
