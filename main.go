package main

import (
	_ "github.com/joho/godotenv/autoload"

	"github.com/gregorybednov/pactchain/cli"
)

func main() {
	cli.Execute()
}
