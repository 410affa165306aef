// Package main is the entry point for guardctl.
package main

import "actionguard/internal/cli"

func main() {
	cli.Execute()
}
