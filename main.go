package main

import (
	"github.com/joho/godotenv"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/cli"
)

func main() {
	_ = godotenv.Load()
	cli.Execute()
}
