package main

import "github.com/ngld/appbase/cmd"

func main() {
	cmd.Execute()
}
