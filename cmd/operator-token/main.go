// Command operator-token mints a signed JWT for the operator endpoints.
//
//	operator-token -operator ops-42 -role operator
//
// The token is printed to stdout; pass it as a Bearer token to the
// GET /verifications/{requesterId} endpoint.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/verification-api/internal/config"
	jwtinfra "github.com/verification-api/internal/infrastructure/jwt"
)

func main() {
	operator := flag.String("operator", "", "operator id to embed in the token")
	role := flag.String("role", "operator", "role claim (operator or admin)")
	flag.Parse()

	if *operator == "" {
		log.Fatal("-operator is required")
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	cfg := config.Load()

	provider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("could not load signing keys: %v", err)
	}

	token, err := provider.Sign(*operator, *role)
	if err != nil {
		log.Fatalf("could not sign token: %v", err)
	}
	fmt.Println(token)
}
