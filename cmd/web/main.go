package main

import (
	"aimtrainer/internal/server"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
