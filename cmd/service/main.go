package main

import (
	"log"
	"os"

	"github.com/goinginblind/scribe/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		os.Exit(1)
	}
}
