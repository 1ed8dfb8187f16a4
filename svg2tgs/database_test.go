package svg2tgs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTransactionRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	t.Cleanup(
		func() {
			sqlDB, err := db.DB()
			if err == nil {
				_ = sqlDB.Close()
			}
		},
	)
	writeDB := NewDatabase(db, nil, 0, false)
	ctx := context.Background()

	_, err := writeDB.Create(ctx, &User{ID: 7, Username: "seven"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			if terr := tx.Model(&User{ID: 7}).Update(
				columnUserBanned, true,
			).Error; terr != nil {
				return terr
			}
			return boom
		},
	)
	require.ErrorIs(t, err, boom)

	var user User
	require.NoError(t, db.Where("id = ?", 7).Last(&user).Error)
	assert.False(t, user.Banned, "rolled-back update must not persist")

	err = writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Model(&User{ID: 7}).Update(columnUserBanned, true).Error
		},
	)
	require.NoError(t, err)
	require.NoError(t, db.Where("id = ?", 7).Last(&user).Error)
	assert.True(t, user.Banned)
}
