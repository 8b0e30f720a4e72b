package utils

import (
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file from the working directory if there is one.
// Variables already present in the environment win.
func LoadEnv() {
	godotenv.Load()
}

func GenerateUUID() string {
	return uuid.New().String()
}
