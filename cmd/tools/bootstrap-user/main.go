// Command bootstrap-user seeds an account in the datastore so a fresh
// deployment has a creator that can sign in and publish.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"clipvault/internal/models"
	"clipvault/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		username    string
		email       string
		fullName    string
		password    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore file")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Username for the account")
	flag.StringVar(&email, "email", "", "Email address for the account")
	flag.StringVar(&fullName, "name", "", "Full name for the account")
	flag.StringVar(&password, "password", "", "Password for the account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	user, created, err := bootstrapUser(repo, username, email, fullName, password)
	if err != nil {
		fatalf("bootstrap user: %v", err)
	}

	if !created {
		fmt.Printf("User %s already exists; nothing to do.\n", user.Username)
		return
	}
	fmt.Printf("User %s (%s) created successfully.\n", user.Username, user.Email)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewStorage(jsonPath)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return storage.NewPostgresRepository(ctx, storage.PostgresConfig{
		DSN:             postgresDSN,
		ApplicationName: "clipvault-bootstrap",
	})
}

func closeRepository(repo storage.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = repo.Close(ctx)
}

func bootstrapUser(repo storage.Repository, username, email, fullName, password string) (models.User, bool, error) {
	if existing, ok := repo.FindUserByUsername(username); ok {
		return existing, false, nil
	}
	user, err := repo.CreateUser(storage.CreateUserParams{
		Username: username,
		Email:    email,
		FullName: fullName,
		Password: password,
	})
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}
