package main

import (
	"fmt"
	"log"

	"github.com/seanblong/filingrag/internal/auth"
	"github.com/seanblong/filingrag/internal/config"
	"github.com/spf13/pflag"
)

// token mints a bearer token for the API using the configured JWT secret.
func main() {
	fs := pflag.NewFlagSet("filingrag-token", pflag.ExitOnError)
	subject := fs.String("subject", "", "Token subject (required)")
	name := fs.String("name", "", "Display name carried in the token")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "Token lifetime")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if cfg.Auth.JwtSecret == "" {
		log.Fatal("no JWT secret configured; set FILINGRAG_AUTH_JWT_SECRET or --auth-jwt-secret")
	}
	auth.InitializeAuth(cfg.Auth.JwtSecret, true)

	tok, err := auth.GenerateJWT(&auth.User{Subject: *subject, Name: *name}, *ttl)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	fmt.Println(tok)
}
