package bootstrap

import (
	"log"

	"github.com/joho/godotenv"
)

// Loadenv populates the process environment from a local .env file when one exists.
// The structured logger is not built yet at this point, so this uses the standard logger.
func Loadenv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
}
