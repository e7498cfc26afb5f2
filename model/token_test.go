package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAPIKey(t *testing.T) {
	setupTestDB(t)

	key := &APIKey{UserId: 7, Key: "gz-0123456789abcdef0123456789abcdef01234567", Name: "ci", Status: APIKeyStatusEnabled}
	require.NoError(t, DB.Create(key).Error)

	got, err := ValidateAPIKey(context.Background(), key.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserId)

	// Second lookup is served from cache; drop the row to prove it.
	require.NoError(t, DB.Delete(&APIKey{}, key.Id).Error)
	got, err = ValidateAPIKey(context.Background(), key.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserId)

	// Invalidation forces a fresh lookup.
	InvalidateAPIKeyCache(key.Key)
	_, err = ValidateAPIKey(context.Background(), key.Key)
	require.ErrorIs(t, err, ErrAPIKeyNotFound)
}

func TestValidateAPIKeyDisabled(t *testing.T) {
	setupTestDB(t)

	key := &APIKey{UserId: 7, Key: "gz-disabled0000000000000000000000000000000", Status: APIKeyStatusDisabled}
	require.NoError(t, DB.Create(key).Error)

	_, err := ValidateAPIKey(context.Background(), key.Key)
	require.ErrorIs(t, err, ErrAPIKeyNotFound)
}

func TestValidateAPIKeyNotFound(t *testing.T) {
	setupTestDB(t)

	_, err := ValidateAPIKey(context.Background(), "gz-missing00000000000000000000000000000000")
	require.ErrorIs(t, err, ErrAPIKeyNotFound)
}
