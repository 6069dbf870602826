package main

import (
	"os"

	"github.com/joho/godotenv"

	"papertrader/cmd/papertrader/cmd"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
