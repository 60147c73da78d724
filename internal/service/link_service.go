package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/SergeiKhy/shortlink/internal/artifact"
	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/SergeiKhy/shortlink/internal/repository"
	"go.uber.org/zap"
)

// Ошибки сервиса
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidURL        = fmt.Errorf("%w: invalid URL", ErrValidation)
	ErrInvalidKey        = fmt.Errorf("%w: custom key must be 4-50 letters, digits, '_' or '-'", ErrValidation)
	ErrReservedKey       = fmt.Errorf("%w: custom key is reserved", ErrValidation)
	ErrInvalidExpiration = fmt.Errorf("%w: expiration must be in the future", ErrValidation)
	ErrMissingOwner      = fmt.Errorf("%w: owner is required", ErrValidation)

	ErrDuplicateAlias = errors.New("alias already taken")
	ErrNotFound       = errors.New("link not found")
	ErrForbidden      = errors.New("link belongs to another owner")
)

// Константы сервиса
const (
	maxTTL       = 365 * 24 * time.Hour
	maxURLLength = 2048
	enqueueWait  = 5 * time.Second
	defaultLimit = 20
	maxListLimit = 100
)

var customKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{4,50}$`)

// Зарезервированные первые сегменты путей роутера
var reservedKeys = map[string]struct{}{
	"api":    {},
	"ws":     {},
	"media":  {},
	"health": {},
}

// JobEnqueuer ставит задачу аллокации в очередь
type JobEnqueuer interface {
	Enqueue(ctx context.Context, linkID int64) error
}

// LinkService интерфейс сервиса ссылок
type LinkService interface {
	CreateLink(ctx context.Context, input *models.CreateLinkInput) (*models.ShortLink, error)
	ListLinks(ctx context.Context, owner string, limit, offset int) ([]models.ShortLink, error)
	GetLink(ctx context.Context, owner, code string) (*models.ShortLink, error)
	UpdateLink(ctx context.Context, owner, code string, input *models.UpdateLinkInput) (*models.ShortLink, error)
	DeleteLink(ctx context.Context, owner, code string) error
	RemoveOwner(ctx context.Context, owner string) (int, error)
}

// linkService реализация сервиса ссылок
type linkService struct {
	linkRepo  repository.LinkRepository
	cacheRepo repository.CacheRepository
	jobs      JobEnqueuer
	storage   artifact.Storage
	logger    *zap.Logger
	now       func() time.Time
}

// NewLinkService создаёт новый экземпляр сервиса
func NewLinkService(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	jobs JobEnqueuer,
	storage artifact.Storage,
	logger *zap.Logger,
) LinkService {
	return &linkService{
		linkRepo:  linkRepo,
		cacheRepo: cacheRepo,
		jobs:      jobs,
		storage:   storage,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateLink записывает ссылку в статусе pending и ставит задачу аллокации.
// Задача ставится только после того, как Create вернулся, т.е. транзакция закоммичена.
func (s *linkService) CreateLink(ctx context.Context, input *models.CreateLinkInput) (*models.ShortLink, error) {
	if strings.TrimSpace(input.Owner) == "" {
		return nil, ErrMissingOwner
	}

	if err := s.validateURL(input.OriginalURL); err != nil {
		return nil, err
	}

	customKey, err := s.normalizeCustomKey(input.CustomKey)
	if err != nil {
		return nil, err
	}

	expiresAt, err := s.expiration(input.ExpirationDate, input.ExpiresIn)
	if err != nil {
		return nil, err
	}

	link := &models.ShortLink{
		Owner:          input.Owner,
		OriginalURL:    input.OriginalURL,
		CustomKey:      customKey,
		Status:         models.StatusPending,
		ExpirationDate: expiresAt,
	}

	if err := s.linkRepo.Create(ctx, link); err != nil {
		if errors.Is(err, repository.ErrAliasExists) {
			s.logger.Warn("Попытка занять существующий алиас",
				zap.String("owner", input.Owner),
				zap.String("code", *customKey),
			)
			return nil, ErrDuplicateAlias
		}
		return nil, err
	}

	// Запись уже закоммичена; отмена запроса клиентом не должна терять задачу
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueWait)
	defer cancel()

	if err := s.jobs.Enqueue(enqueueCtx, link.ID); err != nil {
		// Ссылка останется в pending: повторной постановки нет
		s.logger.Error("Не удалось поставить задачу аллокации",
			zap.Int64("link_id", link.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("Ссылка создана",
		zap.Int64("link_id", link.ID),
		zap.String("owner", link.Owner),
		zap.String("code", link.ResolvedAlias()),
	)

	return link, nil
}

// ListLinks ссылки владельца, новые первыми
func (s *linkService) ListLinks(ctx context.Context, owner string, limit, offset int) ([]models.ShortLink, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	return s.linkRepo.ListByOwner(ctx, owner, limit, offset)
}

// GetLink ищет ссылку владельца по short_key или custom_key.
// Чужая ссылка неотличима от несуществующей.
func (s *linkService) GetLink(ctx context.Context, owner, code string) (*models.ShortLink, error) {
	link, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}

	if link.Owner != owner {
		return nil, ErrNotFound
	}

	return link, nil
}

// UpdateLink меняет срок жизни ссылки; остальные поля неизменяемы
func (s *linkService) UpdateLink(
	ctx context.Context,
	owner, code string,
	input *models.UpdateLinkInput,
) (*models.ShortLink, error) {
	link, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if !input.ClearExpiration {
		if input.ExpirationDate == nil {
			return nil, ErrInvalidExpiration
		}
		if expiresAt, err = s.expiration(input.ExpirationDate, nil); err != nil {
			return nil, err
		}
	}

	if err := s.linkRepo.UpdateExpiration(ctx, link.ID, owner, expiresAt); err != nil {
		return nil, s.mapOwnedError(err)
	}

	s.evict(ctx, link.Aliases()...)

	link.ExpirationDate = expiresAt
	return link, nil
}

// DeleteLink удаляет ссылку; удалять может только владелец
func (s *linkService) DeleteLink(ctx context.Context, owner, code string) error {
	link, err := s.find(ctx, code)
	if err != nil {
		return err
	}

	if err := s.linkRepo.Delete(ctx, link.ID, owner); err != nil {
		return s.mapOwnedError(err)
	}

	s.evict(ctx, link.Aliases()...)

	s.removeArtifact(link)

	s.logger.Info("Ссылка удалена",
		zap.Int64("link_id", link.ID),
		zap.String("owner", owner),
	)

	return nil
}

// RemoveOwner каскадно удаляет владельца и все его ссылки.
// Возвращает число удалённых ссылок.
func (s *linkService) RemoveOwner(ctx context.Context, owner string) (int, error) {
	if strings.TrimSpace(owner) == "" {
		return 0, ErrMissingOwner
	}

	removed, err := s.linkRepo.DeleteOwner(ctx, owner)
	if err != nil {
		return 0, err
	}

	var aliases []string
	for i := range removed {
		aliases = append(aliases, removed[i].Aliases()...)
		s.removeArtifact(&removed[i])
	}

	if len(aliases) > 0 {
		s.evict(ctx, aliases...)
	}

	s.logger.Info("Владелец удалён",
		zap.String("owner", owner),
		zap.Int("links", len(removed)),
	)

	return len(removed), nil
}

func (s *linkService) find(ctx context.Context, code string) (*models.ShortLink, error) {
	link, err := s.linkRepo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return link, nil
}

func (s *linkService) mapOwnedError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotOwner):
		return ErrForbidden
	case errors.Is(err, repository.ErrLinkNotFound):
		return ErrNotFound
	default:
		return err
	}
}

// evict сбрасывает кэш редиректов; ошибка кэша не ломает операцию
func (s *linkService) evict(ctx context.Context, aliases ...string) {
	if err := s.cacheRepo.Delete(ctx, aliases...); err != nil {
		s.logger.Warn("Не удалось сбросить кэш", zap.Strings("codes", aliases), zap.Error(err))
	}
}

func (s *linkService) removeArtifact(link *models.ShortLink) {
	if link.QRArtifact == nil {
		return
	}
	if err := s.storage.Remove(*link.QRArtifact); err != nil {
		s.logger.Warn("Не удалось удалить QR-код",
			zap.Int64("link_id", link.ID),
			zap.Error(err),
		)
	}
}

// validateURL требует абсолютный http(s) URL с хостом
func (s *linkService) validateURL(raw string) error {
	if raw == "" || len(raw) > maxURLLength {
		return ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}

	return nil
}

// normalizeCustomKey пустой ключ означает "сгенерировать"
func (s *linkService) normalizeCustomKey(key *string) (*string, error) {
	if key == nil {
		return nil, nil
	}

	trimmed := strings.TrimSpace(*key)
	if trimmed == "" {
		return nil, nil
	}

	if !customKeyPattern.MatchString(trimmed) {
		return nil, ErrInvalidKey
	}

	if _, reserved := reservedKeys[strings.ToLower(trimmed)]; reserved {
		return nil, ErrReservedKey
	}

	return &trimmed, nil
}

// expiration абсолютная дата важнее относительного expiresIn (в минутах)
func (s *linkService) expiration(at *time.Time, expiresIn *int) (*time.Time, error) {
	now := s.now()

	if at != nil {
		if !at.After(now) {
			return nil, ErrInvalidExpiration
		}
		t := at.UTC()
		return &t, nil
	}

	if expiresIn != nil {
		if *expiresIn <= 0 {
			return nil, ErrInvalidExpiration
		}
		ttl := time.Duration(*expiresIn) * time.Minute
		if ttl > maxTTL {
			ttl = maxTTL
		}
		t := now.Add(ttl).UTC()
		return &t, nil
	}

	return nil, nil
}
