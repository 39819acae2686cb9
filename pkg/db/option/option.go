// Package option holds composable query modifiers for the generic repository.
package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

// Condition is a single column comparison.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a WHERE clause for cond. Unknown operators are ignored.
func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(cond.Field)
		if field == "" {
			return db
		}
		switch cond.Operator {
		case EQ, NEQ, GT, GTE, LT, LTE:
			return db.Where(fmt.Sprintf("%s %s ?", field, cond.Operator), cond.Value)
		case IN:
			return db.Where(fmt.Sprintf("%s IN ?", field), cond.Value)
		default:
			return db
		}
	})
}

// WithSortBy orders results, e.g. WithSortBy("created_at desc").
func WithSortBy(order string) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		order = strings.TrimSpace(order)
		if order == "" {
			return db
		}
		return db.Order(order)
	})
}

func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}
