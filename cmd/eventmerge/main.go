package main

import (
	"os"

	"horse.fit/eventmerge/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
