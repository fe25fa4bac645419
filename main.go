package main

import "github.com/pawnsight/coach/cmd"

func main() {
	cmd.Execute()
}
