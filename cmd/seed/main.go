package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plantkeep/cmms/services/testutil"
	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultIterations = 100_000
	saltLength        = 16
	keyLength         = 32
)

type seedUser struct {
	ID          uuid.UUID
	Email       *string
	Phone       *string
	DisplayName string
	Role        string
	Password    string
	Pin         string
	Granted     []string
	Revoked     []string
}

func main() {
	env := getEnv("CMMS_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: CMMS_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	iterations := defaultIterations
	if v := os.Getenv("CMMS_PBKDF2_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("invalid CMMS_PBKDF2_ITERATIONS %q", v)
		}
		iterations = n
	}

	dsn := (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "cmms"), getEnv("POSTGRES_PASSWORD", "cmms")),
		Host:     getEnv("POSTGRES_HOST", "localhost") + ":" + getEnv("POSTGRES_PORT", "5432"),
		Path:     "/" + getEnv("POSTGRES_DB", "cmms"),
		RawQuery: "sslmode=" + getEnv("POSTGRES_SSLMODE", "disable"),
	}).String()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedUsers(ctx, pool, iterations, demoUsers()); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool, iterations); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	fmt.Printf("  Email: %s\n", testutil.DemoEmail)
	fmt.Printf("  Password: %s\n", testutil.DemoPassword)
	fmt.Printf("  Phone (no PIN, sign in by code): %s\n", testutil.TechnicianPhone)
	fmt.Printf("  Phone: %s  PIN: %s\n", testutil.SupervisorPhone, testutil.SupervisorPin)
}

func demoUsers() []seedUser {
	return []seedUser{
		{
			ID:          testutil.DemoUserID,
			Email:       strPtr(testutil.DemoEmail),
			DisplayName: "Demo Manager",
			Role:        "manager",
			Password:    testutil.DemoPassword,
		},
		{
			ID:          testutil.TechnicianUserID,
			Phone:       strPtr(testutil.TechnicianPhone),
			DisplayName: "Field Technician",
			Role:        "technician",
		},
		{
			ID:          testutil.SupervisorUserID,
			Email:       strPtr("supervisor@plantkeep.io"),
			Phone:       strPtr(testutil.SupervisorPhone),
			DisplayName: "Shift Supervisor",
			Role:        "supervisor",
			Pin:         testutil.SupervisorPin,
			Granted:     []string{"work_orders.approve"},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func strPtr(s string) *string { return &s }

// hashSecret produces the pbkdf2$<iterations>$<salt hex>$<key hex> form the
// auth service verifies.
func hashSecret(secret string, iterations int) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(secret), salt, iterations, keyLength, sha256.New)
	return fmt.Sprintf("pbkdf2$%d$%s$%s", iterations, hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

func optionalHash(secret string, iterations int) (*string, error) {
	if secret == "" {
		return nil, nil
	}
	hash, err := hashSecret(secret, iterations)
	if err != nil {
		return nil, err
	}
	return &hash, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, iterations int, users []seedUser) error {
	now := time.Now()
	for _, u := range users {
		passwordHash, err := optionalHash(u.Password, iterations)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.DisplayName, err)
		}
		pinHash, err := optionalHash(u.Pin, iterations)
		if err != nil {
			return fmt.Errorf("hash pin for %s: %w", u.DisplayName, err)
		}
		granted, revoked := u.Granted, u.Revoked
		if granted == nil {
			granted = []string{}
		}
		if revoked == nil {
			revoked = []string{}
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO users (id, email, phone, display_name, role, password_hash, pin_hash,
				granted_permissions, revoked_permissions, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			ON CONFLICT (id) DO UPDATE
			SET email = EXCLUDED.email,
			    phone = EXCLUDED.phone,
			    display_name = EXCLUDED.display_name,
			    role = EXCLUDED.role,
			    password_hash = EXCLUDED.password_hash,
			    pin_hash = EXCLUDED.pin_hash,
			    granted_permissions = EXCLUDED.granted_permissions,
			    revoked_permissions = EXCLUDED.revoked_permissions,
			    updated_at = EXCLUDED.updated_at
		`, u.ID, u.Email, u.Phone, u.DisplayName, u.Role, passwordHash, pinHash, granted, revoked, now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", u.DisplayName, err)
		}
	}
	return nil
}
