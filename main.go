package main

import "github.com/viizet/svg2tgs/cmd"

func main() {
	cmd.Execute()
}
