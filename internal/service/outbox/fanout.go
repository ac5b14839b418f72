package outbox

import (
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// NamedPublisher - publisher с именем для логов и ошибок.
type NamedPublisher struct {
	Name      string
	Publisher domain.OutboxPublisher
}

// FanoutPublisher публикует событие во все брокеры. Ошибка любого брокера
// возвращается целиком, и worker повторит публикацию во все брокеры заново,
// поэтому получатели должны дедуплицировать события по outbox id.
type FanoutPublisher struct {
	targets []NamedPublisher
}

// NewFanoutPublisher собирает publisher из непустых целей.
func NewFanoutPublisher(targets ...NamedPublisher) *FanoutPublisher {
	filtered := make([]NamedPublisher, 0, len(targets))
	for _, target := range targets {
		if target.Publisher != nil {
			filtered = append(filtered, target)
		}
	}
	return &FanoutPublisher{targets: filtered}
}

// Len возвращает число подключённых брокеров.
func (p *FanoutPublisher) Len() int {
	return len(p.targets)
}

func (p *FanoutPublisher) Publish(event domain.OutboxMessage) error {
	var errs []error
	for _, target := range p.targets {
		if err := target.Publisher.Publish(event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrOutboxPublish, errors.Join(errs...))
	}
	return nil
}

var _ domain.OutboxPublisher = (*FanoutPublisher)(nil)
