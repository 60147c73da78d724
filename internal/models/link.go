package models

import (
	"time"
)

// LinkStatus состояние асинхронной генерации ключа
type LinkStatus string

const (
	StatusPending LinkStatus = "pending"
	StatusDone    LinkStatus = "done"
	StatusFailed  LinkStatus = "failed"
)

// ShortLink короткая ссылка.
// Разрешается ровно по одному алиасу: CustomKey если задан, иначе ShortKey.
type ShortLink struct {
	ID             int64      `json:"id"`
	Owner          string     `json:"owner"`
	OriginalURL    string     `json:"original_url"`
	ShortKey       *string    `json:"short_key"`
	CustomKey      *string    `json:"custom_key"`
	Status         LinkStatus `json:"status"`
	ClickCount     int64      `json:"click_count"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpirationDate *time.Time `json:"expiration_date"`
	QRArtifact     *string    `json:"qr_code"`
}

// IsExpired истина, если срок жизни задан и строго в прошлом относительно now
func (l *ShortLink) IsExpired(now time.Time) bool {
	return l.ExpirationDate != nil && now.After(*l.ExpirationDate)
}

// ResolvedAlias алиас, по которому ссылка разрешается; пусто, пока ключа нет
func (l *ShortLink) ResolvedAlias() string {
	if l.CustomKey != nil && *l.CustomKey != "" {
		return *l.CustomKey
	}
	if l.ShortKey != nil {
		return *l.ShortKey
	}
	return ""
}

// Aliases все непустые алиасы ссылки
func (l *ShortLink) Aliases() []string {
	var aliases []string
	if l.CustomKey != nil && *l.CustomKey != "" {
		aliases = append(aliases, *l.CustomKey)
	}
	if l.ShortKey != nil && *l.ShortKey != "" {
		aliases = append(aliases, *l.ShortKey)
	}
	return aliases
}

// CreateLinkInput входные данные для создания ссылки
type CreateLinkInput struct {
	Owner          string
	OriginalURL    string
	CustomKey      *string
	ExpirationDate *time.Time
	ExpiresIn      *int // минуты
}

// UpdateLinkInput изменяемые поля ссылки
type UpdateLinkInput struct {
	ExpirationDate  *time.Time
	ClearExpiration bool
}
