package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock to the next query. Dialects without row locks drop it.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

// InsertIgnore inserts value unless it collides with a unique constraint on columns.
// It reports whether a row was written.
func InsertIgnore(tx *gorm.DB, value any, columns ...string) (bool, error) {
	conflict := clause.OnConflict{DoNothing: true}
	for _, col := range columns {
		conflict.Columns = append(conflict.Columns, clause.Column{Name: col})
	}
	res := tx.Clauses(conflict).Create(value)
	if res.Error != nil {
		if IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
