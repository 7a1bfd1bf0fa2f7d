package main

import "github.com/hotspotbill/backend/internal/cli"

func main() {
	cli.Execute()
}
