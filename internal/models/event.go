package models

// Действия событий жизненного цикла
const (
	ActionNewURL           = "new_url"
	ActionAllocationFailed = "allocation_failed"
)

// LinkEvent событие для подписчиков, рассылается после завершения аллокации
type LinkEvent struct {
	Action        string     `json:"action"`
	LinkID        int64      `json:"link_id"`
	OriginalURL   string     `json:"original_url"`
	ResolvedAlias string     `json:"resolved_alias"`
	ShortURL      string     `json:"short_url"`
	ClickCount    int64      `json:"click_count"`
	Status        LinkStatus `json:"status"`
	QRArtifactRef *string    `json:"qr_artifact_ref"`
}
