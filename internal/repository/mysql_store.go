package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVEntry 对应于数据库中的 kv_entries 表。
type KVEntry struct {
	Key       string    `gorm:"type:varchar(255);primaryKey;column:kv_key"`
	Value     string    `gorm:"type:longtext;not null;column:kv_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (KVEntry) TableName() string {
	return "kv_entries"
}

type mysqlStore struct {
	db *gorm.DB
}

// NewMySQLStore 创建一个基于 MySQL 的 Store，并自动迁移 kv_entries 表。
func NewMySQLStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv_entries: %w", err)
	}
	return &mysqlStore{db: db}, nil
}

func (r *mysqlStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry KVEntry
	err := r.db.WithContext(ctx).Where("kv_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return entry.Value, true, nil
}

func (r *mysqlStore) Set(ctx context.Context, key, value string) error {
	entry := KVEntry{Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (r *mysqlStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("kv_key IN ?", keys).Delete(&KVEntry{}).Error; err != nil {
		return fmt.Errorf("failed to remove keys: %w", err)
	}
	return nil
}
