package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plantkeep/cmms/services/testutil"
)

// Expired reset token seeded for manual testing of the INVALID_TOKEN path.
const expiredResetToken = "expired-reset-token-0001"

func seedTestData(ctx context.Context, pool *pgxpool.Pool, iterations int) error {
	plannerID := uuid.MustParse("00000000-0000-0000-0000-000000000004")

	err := seedUsers(ctx, pool, iterations, []seedUser{{
		ID:          plannerID,
		Email:       strPtr("planner@plantkeep.io"),
		DisplayName: "Maintenance Planner",
		Role:        "planner",
		Password:    "planner-pass-123",
		Granted:     []string{"inventory.adjust"},
		Revoked:     []string{"work_orders.delete"},
	}})
	if err != nil {
		return err
	}

	now := time.Now()
	sum := sha256.Sum256([]byte(expiredResetToken))
	_, err = pool.Exec(ctx, `
		INSERT INTO reset_tokens (user_id, purpose, token_hash, created_at, expires_at)
		VALUES ($1, 'PASSWORD', $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at, consumed_at = NULL
	`, testutil.DemoUserID, hex.EncodeToString(sum[:]), now.Add(-2*time.Hour), now.Add(-time.Hour))
	return err
}
