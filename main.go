package main

import "streamgrab/cmd"

func main() {
	cmd.Execute()
}
