package repository

import (
	"context"
	"errors"

	"excursion/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Repository is the generic persistence contract shared by the entity services.
type Repository[T any] interface {
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, entity *T) error
	FindAll(ctx context.Context) ([]T, error)
	FindByCondition(ctx context.Context, query interface{}, args ...interface{}) ([]T, error)
}

// Gorm implements Repository on top of a gorm handle.
type Gorm[T any] struct {
	db *gorm.DB
}

func NewGorm[T any](db *gorm.DB) *Gorm[T] {
	return &Gorm[T]{db: db}
}

var _ Repository[struct{}] = (*Gorm[struct{}])(nil)

func (r *Gorm[T]) Create(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Create(entity).Error
}

func (r *Gorm[T]) Update(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Save(entity).Error
}

func (r *Gorm[T]) Delete(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Delete(entity).Error
}

func (r *Gorm[T]) FindAll(ctx context.Context) ([]T, error) {
	var items []T
	if err := r.db.WithContext(ctx).Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Gorm[T]) FindByCondition(ctx context.Context, query interface{}, args ...interface{}) ([]T, error) {
	var items []T
	if err := r.db.WithContext(ctx).Where(query, args...).Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Models lists every table owned by this service, in migration order.
func Models() []interface{} {
	return []interface{}{&models.User{}, &models.RefreshToken{}}
}
