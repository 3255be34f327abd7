// seed-admin creates or updates the workshop admin user.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// Username and password come from SEED_ADMIN_USERNAME / SEED_ADMIN_PASSWORD,
// with dev defaults.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/models"
	"github.com/padaukcraft/beads_backend/utils"
	"gorm.io/gorm"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	username := os.Getenv("SEED_ADMIN_USERNAME")
	if username == "" {
		username = "padaukAdmin"
	}
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "padauk-dev-admin"
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.User
	err = db.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		admin := models.User{
			Username: username,
			Name:     "Workshop Admin",
			Password: string(hashed),
			IsActive: utils.NewTrue(),
			Role:     models.UserRoleAdmin,
		}
		if err := db.WithContext(ctx).Create(&admin).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("admin user %q created (id=%d)\n", username, admin.ID)
		return
	}

	err = db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"password":  string(hashed),
		"is_active": true,
		"role":      models.UserRoleAdmin,
	}).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin: %v\n", err)
		os.Exit(1)
	}
	_ = config.DeleteRedisKey("User:" + username)
	fmt.Printf("admin user %q updated (id=%d)\n", username, existing.ID)
}
