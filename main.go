package main

import (
	"os"

	"composer/internal/app"
)

func main() {
	os.Exit(app.Execute())
}
