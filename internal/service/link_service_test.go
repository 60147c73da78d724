package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/SergeiKhy/shortlink/internal/artifact"
	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/SergeiKhy/shortlink/internal/service"
	"github.com/SergeiKhy/shortlink/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwner = "alice"

// recordingEnqueuer запоминает поставленные задачи вместо настоящей очереди
type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, linkID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.ids = append(e.ids, linkID)
	return nil
}

func (e *recordingEnqueuer) Jobs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.ids...)
}

type testEnv struct {
	links    service.LinkService
	linkRepo *mocks.MockLinkRepository
	cache    *mocks.MockCacheRepository
	jobs     *recordingEnqueuer
	storage  artifact.Storage
	fs       afero.Fs
}

// setupTestService создаёт тестовое окружение с моковыми репозиториями
func setupTestService() *testEnv {
	linkRepo := mocks.NewMockLinkRepository()
	cacheRepo := mocks.NewMockCacheRepository()
	jobs := &recordingEnqueuer{}
	fs := afero.NewMemMapFs()
	storage := artifact.NewStorage(fs, "http://localhost:8080/media")
	logger := zap.NewNop()

	return &testEnv{
		links:    service.NewLinkService(linkRepo, cacheRepo, jobs, storage, logger),
		linkRepo: linkRepo,
		cache:    cacheRepo,
		jobs:     jobs,
		storage:  storage,
		fs:       fs,
	}
}

func strPtr(s string) *string { return &s }

// TestLinkService_CreateLink_Success ссылка создаётся в pending без ключа, задача поставлена
func TestLinkService_CreateLink_Success(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	link, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com/test",
	})

	require.NoError(t, err)
	assert.NotZero(t, link.ID)
	assert.Equal(t, models.StatusPending, link.Status)
	assert.Nil(t, link.ShortKey)
	assert.Nil(t, link.CustomKey)
	assert.Nil(t, link.QRArtifact)
	assert.Zero(t, link.ClickCount)
	assert.Equal(t, []int64{link.ID}, env.jobs.Jobs())
}

// TestLinkService_CreateLink_WithCustomKey кастомный ключ сохраняется как есть
func TestLinkService_CreateLink_WithCustomKey(t *testing.T) {
	env := setupTestService()

	link, err := env.links.CreateLink(context.Background(), &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com/test",
		CustomKey:   strPtr("my-custom_1"),
	})

	require.NoError(t, err)
	require.NotNil(t, link.CustomKey)
	assert.Equal(t, "my-custom_1", *link.CustomKey)
	assert.Equal(t, "my-custom_1", link.ResolvedAlias())
}

// TestLinkService_CreateLink_BlankCustomKey пустой ключ означает автогенерацию
func TestLinkService_CreateLink_BlankCustomKey(t *testing.T) {
	env := setupTestService()

	link, err := env.links.CreateLink(context.Background(), &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com/test",
		CustomKey:   strPtr("   "),
	})

	require.NoError(t, err)
	assert.Nil(t, link.CustomKey)
}

// TestLinkService_CreateLink_DuplicateCustomKey второй запрос с тем же ключом отклоняется
func TestLinkService_CreateLink_DuplicateCustomKey(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	_, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com/a",
		CustomKey:   strPtr("taken"),
	})
	require.NoError(t, err)

	link, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       "bob",
		OriginalURL: "https://example.com/b",
		CustomKey:   strPtr("taken"),
	})

	assert.ErrorIs(t, err, service.ErrDuplicateAlias)
	assert.Nil(t, link)
	assert.Equal(t, 1, env.linkRepo.Count())
	assert.Len(t, env.jobs.Jobs(), 1)
}

// TestLinkService_CreateLink_ConcurrentDuplicateCustomKey ровно один из параллельных запросов побеждает
func TestLinkService_CreateLink_ConcurrentDuplicateCustomKey(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
				Owner:       fmt.Sprintf("owner-%d", i),
				OriginalURL: fmt.Sprintf("https://example.com/%d", i),
				CustomKey:   strPtr("contested"),
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, service.ErrDuplicateAlias):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, env.linkRepo.Count())
}

// TestLinkService_CreateLink_Validation невалидный ввод не создаёт запись и задачу
func TestLinkService_CreateLink_Validation(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	zero := 0

	tests := []struct {
		name    string
		input   models.CreateLinkInput
		wantErr error
	}{
		{"missing owner", models.CreateLinkInput{OriginalURL: "https://example.com"}, service.ErrMissingOwner},
		{"empty url", models.CreateLinkInput{Owner: testOwner}, service.ErrInvalidURL},
		{"no scheme", models.CreateLinkInput{Owner: testOwner, OriginalURL: "example.com"}, service.ErrInvalidURL},
		{"ftp scheme", models.CreateLinkInput{Owner: testOwner, OriginalURL: "ftp://example.com"}, service.ErrInvalidURL},
		{"no host", models.CreateLinkInput{Owner: testOwner, OriginalURL: "https://"}, service.ErrInvalidURL},
		{"short key", models.CreateLinkInput{Owner: testOwner, OriginalURL: "https://example.com", CustomKey: strPtr("abc")}, service.ErrInvalidKey},
		{"bad chars", models.CreateLinkInput{Owner: testOwner, OriginalURL: "https://example.com", CustomKey: strPtr("bad@key")}, service.ErrInvalidKey},
		{"reserved", models.CreateLinkInput{Owner: testOwner, OriginalURL: "https://example.com", CustomKey: strPtr("Media")}, service.ErrReservedKey},
		{"past expiration", models.CreateLinkInput{Owner: testOwner, OriginalURL: "https://example.com", ExpirationDate: &past}, service.ErrInvalidExpiration},
		{"zero expires_in", models.CreateLinkInput{Owner: testOwner, OriginalURL: "https://example.com", ExpiresIn: &zero}, service.ErrInvalidExpiration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService()
			input := tt.input

			link, err := env.links.CreateLink(context.Background(), &input)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, service.ErrValidation)
			assert.Nil(t, link)
			assert.Zero(t, env.linkRepo.Count())
			assert.Empty(t, env.jobs.Jobs())
		})
	}
}

// TestLinkService_CreateLink_ExpiresIn относительный срок в минутах, не больше года
func TestLinkService_CreateLink_ExpiresIn(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	minutes := 60
	link, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com",
		ExpiresIn:   &minutes,
	})
	require.NoError(t, err)
	require.NotNil(t, link.ExpirationDate)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *link.ExpirationDate, 5*time.Second)

	tooLong := 10 * 365 * 24 * 60
	link, err = env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com",
		ExpiresIn:   &tooLong,
	})
	require.NoError(t, err)
	require.NotNil(t, link.ExpirationDate)
	assert.WithinDuration(t, time.Now().Add(365*24*time.Hour), *link.ExpirationDate, 5*time.Second)
}

// TestLinkService_CreateLink_EnqueueFailure ошибка очереди не отменяет созданную ссылку
func TestLinkService_CreateLink_EnqueueFailure(t *testing.T) {
	env := setupTestService()
	env.jobs.err = errors.New("queue unavailable")

	link, err := env.links.CreateLink(context.Background(), &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, link.Status)
	assert.Equal(t, 1, env.linkRepo.Count())
}

// TestLinkService_ListLinks только ссылки владельца, новые первыми
func TestLinkService_ListLinks(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
			Owner:       testOwner,
			OriginalURL: fmt.Sprintf("https://example.com/%d", i),
		})
		require.NoError(t, err)
	}
	_, err := env.links.CreateLink(ctx, &models.CreateLinkInput{Owner: "bob", OriginalURL: "https://example.com/bob"})
	require.NoError(t, err)

	links, err := env.links.ListLinks(ctx, testOwner, 0, 0)
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "https://example.com/2", links[0].OriginalURL)

	page, err := env.links.ListLinks(ctx, testOwner, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "https://example.com/0", page[0].OriginalURL)

	empty, err := env.links.ListLinks(ctx, "nobody", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestLinkService_GetLink чужая ссылка неотличима от несуществующей
func TestLinkService_GetLink(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	created, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com",
		CustomKey:   strPtr("mine"),
	})
	require.NoError(t, err)

	link, err := env.links.GetLink(ctx, testOwner, "mine")
	require.NoError(t, err)
	assert.Equal(t, created.ID, link.ID)

	_, err = env.links.GetLink(ctx, "bob", "mine")
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = env.links.GetLink(ctx, testOwner, "nonexistent")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

// TestLinkService_UpdateLink срок меняется только владельцем и сбрасывает кэш
func TestLinkService_UpdateLink(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	_, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com",
		CustomKey:   strPtr("renew"),
	})
	require.NoError(t, err)
	stale, err := env.linkRepo.GetByCode(ctx, "renew")
	require.NoError(t, err)
	require.NoError(t, env.cache.Set(ctx, "renew", stale, time.Hour))

	future := time.Now().Add(48 * time.Hour)
	link, err := env.links.UpdateLink(ctx, testOwner, "renew", &models.UpdateLinkInput{ExpirationDate: &future})
	require.NoError(t, err)
	require.NotNil(t, link.ExpirationDate)
	assert.WithinDuration(t, future, *link.ExpirationDate, time.Second)

	_, err = env.cache.Get(ctx, "renew")
	assert.Error(t, err, "кэш должен быть сброшен")

	link, err = env.links.UpdateLink(ctx, testOwner, "renew", &models.UpdateLinkInput{ClearExpiration: true})
	require.NoError(t, err)
	assert.Nil(t, link.ExpirationDate)

	_, err = env.links.UpdateLink(ctx, "bob", "renew", &models.UpdateLinkInput{ExpirationDate: &future})
	assert.ErrorIs(t, err, service.ErrForbidden)

	past := time.Now().Add(-time.Minute)
	_, err = env.links.UpdateLink(ctx, testOwner, "renew", &models.UpdateLinkInput{ExpirationDate: &past})
	assert.ErrorIs(t, err, service.ErrInvalidExpiration)

	_, err = env.links.UpdateLink(ctx, testOwner, "nonexistent", &models.UpdateLinkInput{ExpirationDate: &future})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

// TestLinkService_DeleteLink_Success удаление освобождает алиас, кэш и QR-код
func TestLinkService_DeleteLink_Success(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	created, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com",
		CustomKey:   strPtr("gone"),
	})
	require.NoError(t, err)

	ref, err := env.storage.SaveQR(created.ID, []byte("png"))
	require.NoError(t, err)
	require.NoError(t, env.linkRepo.UpdateAfterAllocation(ctx, created.ID, nil, models.StatusDone, &ref))
	require.NoError(t, env.cache.Set(ctx, "gone", created, time.Hour))

	require.NoError(t, env.links.DeleteLink(ctx, testOwner, "gone"))

	_, err = env.linkRepo.GetByCode(ctx, "gone")
	assert.Error(t, err)
	_, err = env.cache.Get(ctx, "gone")
	assert.Error(t, err)
	exists, err := afero.Exists(env.fs, ref)
	require.NoError(t, err)
	assert.False(t, exists)

	// Алиас снова свободен
	_, err = env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       "bob",
		OriginalURL: "https://example.com/new",
		CustomKey:   strPtr("gone"),
	})
	assert.NoError(t, err)
}

// TestLinkService_DeleteLink_Forbidden чужая ссылка не удаляется и не меняется
func TestLinkService_DeleteLink_Forbidden(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	created, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com",
		CustomKey:   strPtr("keepme"),
	})
	require.NoError(t, err)
	before, err := env.linkRepo.GetByID(ctx, created.ID)
	require.NoError(t, err)

	err = env.links.DeleteLink(ctx, "mallory", "keepme")
	assert.ErrorIs(t, err, service.ErrForbidden)

	after, err := env.linkRepo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// TestLinkService_DeleteLink_NotFound удаление несуществующей ссылки
func TestLinkService_DeleteLink_NotFound(t *testing.T) {
	env := setupTestService()

	err := env.links.DeleteLink(context.Background(), testOwner, "nonexistent")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

// TestLinkService_RemoveOwner каскадное удаление освобождает все алиасы владельца
func TestLinkService_RemoveOwner(t *testing.T) {
	env := setupTestService()
	ctx := context.Background()

	first, err := env.links.CreateLink(ctx, &models.CreateLinkInput{
		Owner:       testOwner,
		OriginalURL: "https://example.com/1",
		CustomKey:   strPtr("first"),
	})
	require.NoError(t, err)
	ref, err := env.storage.SaveQR(first.ID, []byte("png"))
	require.NoError(t, err)
	require.NoError(t, env.linkRepo.UpdateAfterAllocation(ctx, first.ID, nil, models.StatusDone, &ref))

	_, err = env.links.CreateLink(ctx, &models.CreateLinkInput{Owner: testOwner, OriginalURL: "https://example.com/2"})
	require.NoError(t, err)
	_, err = env.links.CreateLink(ctx, &models.CreateLinkInput{Owner: "bob", OriginalURL: "https://example.com/bob"})
	require.NoError(t, err)

	removed, err := env.links.RemoveOwner(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, env.linkRepo.Count())

	_, err = env.linkRepo.GetByCode(ctx, "first")
	assert.Error(t, err)
	exists, err := afero.Exists(env.fs, ref)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = env.links.RemoveOwner(ctx, "")
	assert.ErrorIs(t, err, service.ErrMissingOwner)
}
