package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/repository"
	"sanskrit-enrollment/internal/infra/metrics"
	red "sanskrit-enrollment/internal/infra/redis"
)

var _ repository.CourseRepository = (*courseRepoCacheDecorator)(nil)

// courseRepoCacheDecorator caches catalog reads. Reads inside a transaction
// bypass the cache so they see the locked row.
type courseRepoCacheDecorator struct {
	inner repository.CourseRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewCourseRepoCacheDecorator(inner repository.CourseRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.CourseRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &courseRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func courseKey(id string) string { return fmt.Sprintf("course:%s", id) }

func (d *courseRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := courseKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var c model.Course
		if json.Unmarshal([]byte(val), &c) == nil {
			metrics.IncCacheRequest("course", "hit")
			return &c, nil
		}
	} else if err != red.Nil {
		d.log.Warn().Err(err).Str("key", key).Msg("course cache read failed")
	}

	metrics.IncCacheRequest("course", "miss")
	c, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(c); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("course cache write failed")
		}
	}
	return c, nil
}

func (d *courseRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, c *model.Course) error {
	if err := d.inner.Save(ctx, tx, c); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, courseKey(c.ID)); err != nil {
		d.log.Warn().Err(err).Str("course_id", c.ID).Msg("course cache invalidation failed")
	}
	return nil
}
