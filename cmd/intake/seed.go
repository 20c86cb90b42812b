package main

import (
	"context"
	"fmt"

	intake "github.com/goliatone/go-intake"
	"github.com/goliatone/go-intake/config"
)

// runSeed creates an account, an admin unless --role says otherwise
func runSeed(args []string) error {
	fs := config.Flags("seed")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	firstName := fs.String("first-name", "Admin", "account first name")
	lastName := fs.String("last-name", "User", "account last name")
	role := fs.String("role", string(intake.RoleAdmin), "account role")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := intake.ParseRole(*role)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := bootstrap(ctx, fs)
	if err != nil {
		return err
	}
	defer a.repo.Close()

	result, err := a.services.Auth.Register(ctx, intake.RegisterAccountMessage{
		FirstName: *firstName,
		LastName:  *lastName,
		Email:     *email,
		Password:  *password,
		Role:      r,
	})
	if err != nil {
		return err
	}

	fmt.Printf("created %s account %s (%s)\n", result.User.Role, result.User.Email, result.User.ID)
	return nil
}
