package http

import (
	"github.com/verification-api/internal/application/verification"
	jwtinfra "github.com/verification-api/internal/infrastructure/jwt"
)

// Deps holds all dependencies for the router. JWTProvider may be nil; the
// operator surface then rejects every request.
type Deps struct {
	Service     verification.Service
	JWTProvider *jwtinfra.Provider
}
