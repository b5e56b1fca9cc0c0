// Package main is the entry point of the mlreplace command-line tool.
package main

import "github.com/sarchlab/mlreplace/mlreplace/cmd"

func main() {
	cmd.Execute()
}
