package service

import (
	"context"
	"errors"
	"time"

	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/SergeiKhy/shortlink/internal/repository"
	"go.uber.org/zap"
)

// RedirectResult итог разрешения алиаса. Found=false означает 404;
// истёкшие, удалённые и неизвестные алиасы неотличимы.
type RedirectResult struct {
	Found     bool
	TargetURL string
	LinkID    int64
}

// Resolver отвечает на GET /{code}
type Resolver interface {
	Resolve(ctx context.Context, code string) (RedirectResult, error)
}

type resolver struct {
	linkRepo  repository.LinkRepository
	cacheRepo repository.CacheRepository
	cacheTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewResolver(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	cacheTTL time.Duration,
	logger *zap.Logger,
) Resolver {
	return &resolver{
		linkRepo:  linkRepo,
		cacheRepo: cacheRepo,
		cacheTTL:  cacheTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve ищет алиас в кэше, затем в БД. Статус аллокации не проверяется:
// custom_key работает сразу после создания. Переход засчитывается одним
// атомарным инкрементом; ошибка возвращается только при сбое хранилища.
func (r *resolver) Resolve(ctx context.Context, code string) (RedirectResult, error) {
	link, err := r.lookup(ctx, code)
	if err != nil {
		return RedirectResult{}, err
	}
	if link == nil {
		return RedirectResult{}, nil
	}

	if link.IsExpired(r.now()) {
		r.logger.Debug("Ссылка истекла", zap.String("code", code), zap.Int64("link_id", link.ID))
		return RedirectResult{}, nil
	}

	if _, err := r.linkRepo.IncrementClicks(ctx, link.ID); err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			// Ссылку удалили, а кэш ещё жив
			r.evict(ctx, code)
			return RedirectResult{}, nil
		}
		return RedirectResult{}, err
	}

	return RedirectResult{
		Found:     true,
		TargetURL: link.OriginalURL,
		LinkID:    link.ID,
	}, nil
}

// lookup cache-aside; промахи БД не кэшируются
func (r *resolver) lookup(ctx context.Context, code string) (*models.ShortLink, error) {
	cached, err := r.cacheRepo.Get(ctx, code)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		r.logger.Warn("Ошибка чтения кэша", zap.String("code", code), zap.Error(err))
	}

	link, err := r.linkRepo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if ttl := r.ttlFor(link); ttl > 0 {
		if err := r.cacheRepo.Set(ctx, code, link, ttl); err != nil {
			r.logger.Warn("Не удалось закэшировать ссылку", zap.String("code", code), zap.Error(err))
		}
	}

	return link, nil
}

// ttlFor запись в кэше не переживает срок жизни ссылки
func (r *resolver) ttlFor(link *models.ShortLink) time.Duration {
	ttl := r.cacheTTL
	if link.ExpirationDate != nil {
		if left := link.ExpirationDate.Sub(r.now()); left < ttl {
			ttl = left
		}
	}
	return ttl
}

func (r *resolver) evict(ctx context.Context, code string) {
	if err := r.cacheRepo.Delete(ctx, code); err != nil {
		r.logger.Warn("Не удалось сбросить кэш", zap.String("code", code), zap.Error(err))
	}
}
