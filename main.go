package main

import "github.com/fakeyudi/lokseva/cmd"

func main() {
	cmd.Execute()
}
