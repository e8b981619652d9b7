package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base holds the connection shared by domain repositories. Embed it and
// build every query from DB(ctx) so request cancellation reaches the driver.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx. A nil ctx returns the raw handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}
