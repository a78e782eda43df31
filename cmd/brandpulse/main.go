package main

import (
	"os"

	"tacit.fyi/brandpulse/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
