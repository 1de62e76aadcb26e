package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/houseofkezura/backend-sub000/internal/platform/config"
)

type counterRow struct {
	ID    uint `gorm:"primaryKey"`
	Name  string
	Value int
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{
		Driver:       DriverSQLite,
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	require.NoError(t, db.AutoMigrate(&counterRow{}))
	return db
}

func TestWrapErrorClassifies(t *testing.T) {
	notFound := WrapError("load", gorm.ErrRecordNotFound)
	var repoErr *Error
	require.ErrorAs(t, notFound, &repoErr)
	require.True(t, repoErr.IsNotFound())
	require.Contains(t, notFound.Error(), "load")

	dup := WrapError("insert", gorm.ErrDuplicatedKey)
	require.ErrorAs(t, dup, &repoErr)
	require.True(t, repoErr.IsConflict())

	deadlock := WrapError("update", &mysqldriver.MySQLError{Number: mysqlErrDeadlock})
	require.ErrorAs(t, deadlock, &repoErr)
	require.True(t, repoErr.IsConflict())
	require.True(t, IsRetryable(deadlock))

	require.ErrorIs(t, WrapError("op", context.Canceled), context.Canceled)
	require.NoError(t, WrapError("op", nil))
}

func TestConflictHelperWrapsStaleWrite(t *testing.T) {
	err := Conflict("payments.transition", "reference %s", "ref-1")
	require.ErrorIs(t, err, ErrStaleWrite)
	var repoErr *Error
	require.ErrorAs(t, err, &repoErr)
	require.True(t, repoErr.IsConflict())
}

func TestRunInTxCommitsAndRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := RunInTx(ctx, db, func(ctx context.Context) error {
		require.True(t, InTx(ctx))
		return Conn(ctx, db).Create(&counterRow{Name: "kept", Value: 1}).Error
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = RunInTx(ctx, db, func(ctx context.Context) error {
		if err := Conn(ctx, db).Create(&counterRow{Name: "dropped", Value: 2}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&counterRow{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRunInTxJoinsOuterTransaction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := RunInTx(ctx, db, func(outer context.Context) error {
		return RunInTx(outer, db, func(inner context.Context) error {
			return Conn(inner, db).Create(&counterRow{Name: "nested"}).Error
		})
	})
	require.NoError(t, err)
	require.False(t, InTx(ctx))
	require.NoError(t, Ping(db)(ctx))
}
