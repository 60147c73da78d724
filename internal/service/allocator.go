package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SergeiKhy/shortlink/internal/artifact"
	"github.com/SergeiKhy/shortlink/internal/base62"
	"github.com/SergeiKhy/shortlink/internal/broadcast"
	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/SergeiKhy/shortlink/internal/repository"
	"go.uber.org/zap"
)

// KeyOffset прибавляется к id перед кодированием: сгенерированные ключи
// не короче трёх символов и не пересекаются с короткими ручными алиасами
const KeyOffset = 100000

// Константы worker pool
const (
	defaultAllocatorWorkers = 3
	defaultJobTimeout       = 30 * time.Second
	failureWriteTimeout     = 5 * time.Second
	popRetryDelay           = time.Second
)

var ErrAllocationFailed = errors.New("allocation failed")

// Allocator фоновая генерация ключа и QR-кода для новых ссылок
type Allocator interface {
	Start()
	Stop()
	Enqueue(ctx context.Context, linkID int64) error
	Allocate(ctx context.Context, linkID int64) error
}

// AllocatorConfig параметры пула воркеров
type AllocatorConfig struct {
	Workers    int
	JobTimeout time.Duration
	BaseURL    string // префикс канонического короткого URL
}

// allocator реализация аллокатора с использованием Worker Pool
type allocator struct {
	linkRepo    repository.LinkRepository
	queue       JobQueue
	qr          artifact.QRGenerator
	storage     artifact.Storage
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
	cfg         AllocatorConfig

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAllocator создаёт аллокатор; воркеры запускаются в Start
func NewAllocator(
	linkRepo repository.LinkRepository,
	queue JobQueue,
	qr artifact.QRGenerator,
	storage artifact.Storage,
	broadcaster broadcast.Broadcaster,
	logger *zap.Logger,
	cfg AllocatorConfig,
) Allocator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultAllocatorWorkers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	return &allocator{
		linkRepo:    linkRepo,
		queue:       queue,
		qr:          qr,
		storage:     storage,
		broadcaster: broadcaster,
		logger:      logger,
		cfg:         cfg,
	}
}

// Start запускает worker pool
func (a *allocator) Start() {
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.logger.Info("Запуск воркеров аллокатора", zap.Int("count", a.cfg.Workers))

	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}
}

// Stop останавливает приём задач и ждёт завершения начатых
func (a *allocator) Stop() {
	if a.cancel == nil {
		return
	}

	a.logger.Info("Остановка аллокатора...")
	a.cancel()
	a.wg.Wait()
	a.logger.Info("Аллокатор остановлен")
}

// Enqueue ставит задачу в очередь; вызывается только после коммита записи
func (a *allocator) Enqueue(ctx context.Context, linkID int64) error {
	return a.queue.Push(ctx, linkID)
}

// worker забирает задачи из очереди
func (a *allocator) worker(id int) {
	defer a.wg.Done()

	a.logger.Debug("Воркер аллокатора запущен", zap.Int("id", id))

	for {
		linkID, err := a.queue.Pop(a.ctx)
		if err != nil {
			if a.ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				a.logger.Debug("Воркер аллокатора остановлен", zap.Int("id", id))
				return
			}

			a.logger.Warn("Ошибка чтения очереди", zap.Int("worker", id), zap.Error(err))
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(popRetryDelay):
			}
			continue
		}

		a.process(linkID)
	}
}

// process не зависит от a.ctx: начатая задача доводится до конца и при Stop
func (a *allocator) process(linkID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.JobTimeout)
	defer cancel()

	_ = a.Allocate(ctx, linkID)
}

// Allocate выполняет одну задачу: ключ, QR-код, одно обновление записи, событие.
// Любая ошибка после загрузки записи переводит её в failed; повтора нет.
func (a *allocator) Allocate(ctx context.Context, linkID int64) (err error) {
	link, err := a.linkRepo.GetByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			a.logger.Error("Ссылка для аллокации не найдена", zap.Int64("link_id", linkID))
			return err
		}
		a.logger.Error("Не удалось загрузить ссылку", zap.Int64("link_id", linkID), zap.Error(err))
		return err
	}

	if link.Status != models.StatusPending {
		a.logger.Info("Ссылка уже обработана, пропускаем",
			zap.Int64("link_id", linkID),
			zap.String("status", string(link.Status)),
		)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrAllocationFailed, r)
			a.fail(ctx, link, err)
		}
	}()

	if err := a.assign(ctx, link); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyAllocated):
			a.logger.Info("Ссылку обработал другой воркер", zap.Int64("link_id", linkID))
			return nil
		case errors.Is(err, repository.ErrLinkNotFound):
			a.logger.Warn("Ссылка удалена во время аллокации", zap.Int64("link_id", linkID))
			return err
		}
		a.fail(ctx, link, err)
		return err
	}

	a.logger.Info("Аллокация завершена",
		zap.Int64("link_id", link.ID),
		zap.String("code", link.ResolvedAlias()),
	)

	a.publish(ctx, link, models.ActionNewURL)
	return nil
}

// assign шаги 2-5: ключ, артефакт и одно обновление записи
func (a *allocator) assign(ctx context.Context, link *models.ShortLink) error {
	var shortKey *string
	if link.ShortKey == nil && link.CustomKey == nil {
		key := base62.Encode(uint64(link.ID) + KeyOffset)
		shortKey = &key
	}

	alias := link.ResolvedAlias()
	if alias == "" {
		alias = *shortKey
	}

	png, err := a.qr.Generate(a.shortURL(alias))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	ref, err := a.storage.SaveQR(link.ID, png)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	if err := a.linkRepo.UpdateAfterAllocation(ctx, link.ID, shortKey, models.StatusDone, &ref); err != nil {
		// Файл принадлежит победившему воркеру
		if !errors.Is(err, repository.ErrAlreadyAllocated) {
			if rmErr := a.storage.Remove(ref); rmErr != nil {
				a.logger.Warn("Не удалось удалить QR-код", zap.Int64("link_id", link.ID), zap.Error(rmErr))
			}
		}
		return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	if shortKey != nil {
		link.ShortKey = shortKey
	}
	link.Status = models.StatusDone
	link.QRArtifact = &ref
	return nil
}

// fail одна дополнительная запись статуса, best-effort
func (a *allocator) fail(ctx context.Context, link *models.ShortLink, cause error) {
	a.logger.Error("Аллокация не удалась",
		zap.Int64("link_id", link.ID),
		zap.Error(cause),
	)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if err := a.linkRepo.UpdateAfterAllocation(writeCtx, link.ID, nil, models.StatusFailed, nil); err != nil {
		a.logger.Warn("Не удалось отметить ссылку как failed",
			zap.Int64("link_id", link.ID),
			zap.Error(err),
		)
		return
	}

	link.Status = models.StatusFailed
	a.publish(writeCtx, link, models.ActionAllocationFailed)
}

// publish вызывается только после того, как обновление записано
func (a *allocator) publish(ctx context.Context, link *models.ShortLink, action string) {
	var ref *string
	if link.QRArtifact != nil {
		u := a.storage.URL(*link.QRArtifact)
		ref = &u
	}

	alias := link.ResolvedAlias()
	var shortURL string
	if alias != "" {
		shortURL = a.shortURL(alias)
	}

	event := models.LinkEvent{
		Action:        action,
		LinkID:        link.ID,
		OriginalURL:   link.OriginalURL,
		ResolvedAlias: alias,
		ShortURL:      shortURL,
		ClickCount:    link.ClickCount,
		Status:        link.Status,
		QRArtifactRef: ref,
	}

	if err := a.broadcaster.Publish(ctx, event); err != nil {
		a.logger.Warn("Не удалось разослать событие",
			zap.Int64("link_id", link.ID),
			zap.Error(err),
		)
	}
}

func (a *allocator) shortURL(alias string) string {
	return a.cfg.BaseURL + "/" + alias
}
