package main

import "github.com/wycleffsean/linthost/cmd"

func main() {
	cmd.Execute()
}
