package main

import (
	"log"

	flag "github.com/spf13/pflag"

	"motionhub/cmd/internal/app"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading MOTION_* variables")
	flag.Parse()

	if err := app.Run(*envFile); err != nil {
		log.Fatal(err)
	}
}
