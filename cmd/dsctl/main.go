package main

import "github.com/dynamicsolutions/dashboard-bfa-go/internal/cli"

func main() {
	cli.Execute()
}
