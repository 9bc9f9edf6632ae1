package messaging

import "github.com/studyflow/tracker-sync/internal/domain"

// EventHandler is called for each committed CRUD event received from the broker
type EventHandler func(event *domain.CRUDEvent) error
