package main

import "github.com/sirouk/clawboard/cmd"

func main() {
	cmd.Execute()
}
