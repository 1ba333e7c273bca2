package main

import (
	"os"

	"github.com/cuongbtq/analysis-tracker/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	// a missing .env is fine, flags and the environment still apply
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
