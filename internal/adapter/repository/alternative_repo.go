package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"free-alt-finder/internal/common"
	"free-alt-finder/internal/config"
	"free-alt-finder/internal/domain"
)

// AlternativeRepo 实现了 port.AlternativeStore 接口
type AlternativeRepo struct {
	db *gorm.DB
}

// NewAlternativeRepo 包装一个已打开的连接
func NewAlternativeRepo(db *gorm.DB) *AlternativeRepo {
	return &AlternativeRepo{db: db}
}

// Open 按配置连接数据库，连接失败时按指数退避重试，然后自动迁移表结构
func Open(ctx context.Context, cfg config.StoreConfig) (*AlternativeRepo, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		dialector = postgres.Open(dsn)
	}

	db, err := common.DoValue(ctx, func() (*gorm.DB, error) {
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return db, nil
	}, common.WithMaxRetries(cfg.ConnectRetries), common.WithInitialDelay(time.Second))
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "连接数据库失败", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "获取连接池失败", err)
	}
	if cfg.Driver == config.DriverSQLite {
		// 内存库每个连接都是独立的数据库
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewAlternativeRepo(db)
	if err := repo.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return repo, nil
}

// Migrate 创建/更新 alternatives 表 (name 唯一索引)
func (r *AlternativeRepo) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&domain.Alternative{}); err != nil {
		return common.WrapError(common.ErrCodeDatabase, "数据库迁移失败", err)
	}
	return nil
}

// Search 缓存查询：名字模糊匹配 (不区分大小写) 或 tags 包含小写查询词
func (r *AlternativeRepo) Search(ctx context.Context, query string, limit int) ([]*domain.Alternative, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.Alternative{}, nil
	}

	like := "%" + escapeLike(query) + "%"
	tag := strings.ToLower(query)

	tx := r.db.WithContext(ctx)
	switch r.db.Dialector.Name() {
	case "postgres":
		tagJSON, err := json.Marshal([]string{tag})
		if err != nil {
			return nil, err
		}
		tx = tx.Where(`name ILIKE ? ESCAPE '\' OR tags @> ?::jsonb`, like, string(tagJSON))
	default:
		// sqlite 的 LIKE 对 ASCII 本身不区分大小写
		tx = tx.Where(`name LIKE ? ESCAPE '\' OR EXISTS (SELECT 1 FROM json_each(alternatives.tags) WHERE json_each.value = ?)`, like, tag)
	}

	var alternatives []*domain.Alternative
	err := tx.Limit(limit).Find(&alternatives).Error
	if err != nil {
		return nil, err
	}
	return alternatives, nil
}

// Upsert 按 name 冲突批量写入：已存在的行被覆盖而不是重复插入。
// 返回写入后库里的记录，顺序与入参一致。
func (r *AlternativeRepo) Upsert(ctx context.Context, records []*domain.Alternative) ([]*domain.Alternative, error) {
	if len(records) == 0 {
		return []*domain.Alternative{}, nil
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"url",
			"category",
			"short_description",
			"tags",
			"updated_at",
		}),
	}).Create(&records).Error
	if err != nil {
		return nil, fmt.Errorf("upsert %d 条记录失败: %w", len(records), err)
	}

	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Name)
	}

	var saved []*domain.Alternative
	if err := r.db.WithContext(ctx).Where("name IN ?", names).Find(&saved).Error; err != nil {
		return nil, fmt.Errorf("读取写入结果失败: %w", err)
	}

	byName := make(map[string]*domain.Alternative, len(saved))
	for _, s := range saved {
		byName[s.Name] = s
	}
	ordered := make([]*domain.Alternative, 0, len(saved))
	for _, name := range names {
		if s, ok := byName[name]; ok {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}

// Ping 检查数据库是否可达
func (r *AlternativeRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接池
func (r *AlternativeRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
