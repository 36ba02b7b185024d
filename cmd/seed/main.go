package main

import (
	"log/slog"
	"os"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/domain"
	"marketplace/internal/logging"
	"marketplace/internal/pkg/password"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type seedUser struct {
	email     string
	password  string
	firstName string
	lastName  string
	role      domain.UserRole
	confirmed bool
}

var seedUsers = []seedUser{
	{"admin@marketplace.local", "Admin!2345", "Site", "Admin", domain.RoleAdmin, true},
	{"vendor@marketplace.local", "Vendor!2345", "Vera", "Vendor", domain.RoleVendor, true},
	{"customer@marketplace.local", "Customer!2345", "Carl", "Customer", domain.RoleCustomer, true},
	{"pending@marketplace.local", "Pending!2345", "Paula", "Pending", domain.RoleCustomer, false},
}

// Seeds demo accounts for local development. Running it twice resets their
// passwords, confirmation and lockout state.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.AppEnv, cfg.LogLevel)

	if cfg.IsProduction() {
		log.Error("refusing to seed demo users in a production environment")
		os.Exit(1)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		log.Error("migrate failed", "error", err)
		os.Exit(1)
	}

	hasher := password.NewHasher(cfg.BcryptCost)
	for _, su := range seedUsers {
		if err := upsert(db, hasher, su); err != nil {
			log.Error("seed user failed", "email", su.email, "error", err)
			os.Exit(1)
		}
		log.Info("seeded user", "email", su.email, "password", su.password, "role", su.role)
	}
}

func upsert(db *gorm.DB, hasher *password.Hasher, su seedUser) error {
	hash, err := hasher.Hash(su.password)
	if err != nil {
		return err
	}
	u := domain.User{
		Email:          su.email,
		PasswordHash:   hash,
		FirstName:      su.firstName,
		LastName:       su.lastName,
		Role:           su.role,
		EmailConfirmed: su.confirmed,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"password_hash", "first_name", "last_name", "role",
			"email_confirmed", "failed_access_count", "lockout_end",
		}),
	}).Create(&u).Error
}
