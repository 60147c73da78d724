package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/SergeiKhy/shortlink/internal/repository"
)

// MockLinkRepository implements repository.LinkRepository in memory.
// Aliases share one namespace across short and custom keys, like the
// link_aliases table. Returned links are copies.
type MockLinkRepository struct {
	mu      sync.RWMutex
	links   map[int64]*models.ShortLink
	aliases map[string]int64
	nextID  int64

	// UpdateErr, when set, is returned by the next UpdateAfterAllocation call
	UpdateErr error
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{
		links:   make(map[int64]*models.ShortLink),
		aliases: make(map[string]int64),
		nextID:  1,
	}
}

func (m *MockLinkRepository) Create(ctx context.Context, link *models.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if link.CustomKey != nil {
		if _, exists := m.aliases[*link.CustomKey]; exists {
			return repository.ErrAliasExists
		}
	}

	link.ID = m.nextID
	m.nextID++
	link.Status = models.StatusPending
	link.CreatedAt = time.Now().UTC()

	if link.CustomKey != nil {
		m.aliases[*link.CustomKey] = link.ID
	}

	stored := *link
	m.links[link.ID] = &stored
	return nil
}

func (m *MockLinkRepository) GetByID(ctx context.Context, id int64) (*models.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.links[id]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	copied := *link
	return &copied, nil
}

func (m *MockLinkRepository) GetByCode(ctx context.Context, code string) (*models.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.aliases[code]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	copied := *m.links[id]
	return &copied, nil
}

func (m *MockLinkRepository) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]models.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	links := []models.ShortLink{}
	for _, link := range m.links {
		if link.Owner == owner {
			links = append(links, *link)
		}
	}

	sort.Slice(links, func(i, j int) bool { return links[i].ID > links[j].ID })

	if offset >= len(links) {
		return []models.ShortLink{}, nil
	}
	links = links[offset:]
	if limit < len(links) {
		links = links[:limit]
	}
	return links, nil
}

func (m *MockLinkRepository) UpdateAfterAllocation(
	ctx context.Context,
	id int64,
	shortKey *string,
	status models.LinkStatus,
	qrArtifact *string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.UpdateErr; err != nil {
		m.UpdateErr = nil
		return err
	}

	link, exists := m.links[id]
	if !exists {
		return repository.ErrLinkNotFound
	}
	if link.Status != models.StatusPending {
		return repository.ErrAlreadyAllocated
	}

	if shortKey != nil {
		if _, taken := m.aliases[*shortKey]; taken {
			return repository.ErrAliasExists
		}
		key := *shortKey
		link.ShortKey = &key
		m.aliases[key] = id
	}
	if qrArtifact != nil {
		ref := *qrArtifact
		link.QRArtifact = &ref
	}
	link.Status = status
	return nil
}

func (m *MockLinkRepository) IncrementClicks(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.links[id]
	if !exists {
		return 0, repository.ErrLinkNotFound
	}
	link.ClickCount++
	return link.ClickCount, nil
}

func (m *MockLinkRepository) UpdateExpiration(ctx context.Context, id int64, owner string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, err := m.owned(id, owner)
	if err != nil {
		return err
	}
	link.ExpirationDate = expiresAt
	return nil
}

func (m *MockLinkRepository) Delete(ctx context.Context, id int64, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, err := m.owned(id, owner)
	if err != nil {
		return err
	}
	m.remove(link)
	return nil
}

func (m *MockLinkRepository) DeleteOwner(ctx context.Context, owner string) ([]models.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := []models.ShortLink{}
	for _, link := range m.links {
		if link.Owner == owner {
			removed = append(removed, *link)
			m.remove(link)
		}
	}
	return removed, nil
}

// Count returns the number of stored links
func (m *MockLinkRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.links)
}

func (m *MockLinkRepository) owned(id int64, owner string) (*models.ShortLink, error) {
	link, exists := m.links[id]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	if link.Owner != owner {
		return nil, repository.ErrNotOwner
	}
	return link, nil
}

func (m *MockLinkRepository) remove(link *models.ShortLink) {
	for _, alias := range link.Aliases() {
		delete(m.aliases, alias)
	}
	delete(m.links, link.ID)
}

// MockCacheRepository implements repository.CacheRepository for testing
type MockCacheRepository struct {
	mu    sync.RWMutex
	cache map[string]models.ShortLink
	ttls  map[string]time.Duration
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache: make(map[string]models.ShortLink),
		ttls:  make(map[string]time.Duration),
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, code string) (*models.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.cache[code]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	return &models.ShortLink{
		ID:             link.ID,
		OriginalURL:    link.OriginalURL,
		ExpirationDate: link.ExpirationDate,
	}, nil
}

func (m *MockCacheRepository) Set(ctx context.Context, code string, link *models.ShortLink, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[code] = *link
	m.ttls[code] = ttl
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, codes ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, code := range codes {
		delete(m.cache, code)
		delete(m.ttls, code)
	}
	return nil
}

// TTL returns the ttl the code was cached with
func (m *MockCacheRepository) TTL(code string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ttl, ok := m.ttls[code]
	return ttl, ok
}
