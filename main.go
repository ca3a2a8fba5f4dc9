package main

import "github.com/andresmejia3/vidface/cmd"

func main() {
	cmd.Execute()
}
