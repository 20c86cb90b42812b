package config

import (
	validation "github.com/go-ozzo/ozzo-validation"
)

// Validate checks the settings needed to boot the service
func (c Config) Validate() error {
	return validation.Errors{
		"server":   c.Server.Validate(),
		"database": c.Database.Validate(),
		"auth":     c.Auth.Validate(),
		"storage":  c.Storage.Validate(),
	}.Filter()
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Addr, validation.Required),
	)
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In("sqlite", "sqlite3", "postgres", "pgx", "postgresql")),
		validation.Field(&d.DSN, validation.Required),
	)
}

func (a Auth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&a.PasswordAlgorithm, validation.In("bcrypt", "argon2id")),
		validation.Field(&a.BcryptCost, validation.Min(4), validation.Max(31)),
	)
}

func (s Storage) Validate() error {
	err := validation.Errors{
		"driver": validation.Validate(s.Driver, validation.Required, validation.In("local", "s3")),
	}
	switch s.Driver {
	case "local":
		err["dir"] = validation.Validate(s.Dir, validation.Required)
	case "s3":
		err["s3"] = s.S3.Validate()
	}
	return err.Filter()
}

func (s S3) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Bucket, validation.Required),
		validation.Field(&s.Region, validation.Required),
	)
}
