package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediarr/internal/kit"
	"mediarr/internal/storage"
	logx "mediarr/pkg/logx"
)

// Endpoint administration. Config validation happens here, at save time,
// so a malformed endpoint can never reach the dispatch path.

func (s *Service) ListEndpoints(ctx context.Context) ([]kit.Endpoint, error) {
	return s.store.ListEndpoints(ctx)
}

func (s *Service) GetEndpoint(ctx context.Context, id uuid.UUID) (kit.Endpoint, error) {
	ep, err := s.store.GetEndpoint(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return kit.Endpoint{}, ErrEndpointNotFound
	}
	return ep, err
}

func (s *Service) CreateEndpoint(ctx context.Context, ep kit.Endpoint) (kit.Endpoint, error) {
	if err := s.normalize(&ep); err != nil {
		return kit.Endpoint{}, err
	}
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	now := time.Now().UTC()
	ep.CreatedAt = now
	ep.UpdatedAt = now

	if err := s.store.CreateEndpoint(ctx, ep); err != nil {
		return kit.Endpoint{}, err
	}
	s.log.Info("endpoint created",
		logx.String("endpoint_id", ep.ID.String()),
		logx.String("kind", string(ep.Kind)),
		logx.String("name", ep.Name),
	)
	return ep, nil
}

func (s *Service) UpdateEndpoint(ctx context.Context, ep kit.Endpoint) (kit.Endpoint, error) {
	if ep.ID == uuid.Nil {
		return kit.Endpoint{}, ErrEndpointNotFound
	}
	if err := s.normalize(&ep); err != nil {
		return kit.Endpoint{}, err
	}
	ep.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateEndpoint(ctx, ep); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return kit.Endpoint{}, ErrEndpointNotFound
		}
		return kit.Endpoint{}, err
	}
	return s.store.GetEndpoint(ctx, ep.ID)
}

func (s *Service) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	err := s.store.DeleteEndpoint(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrEndpointNotFound
	}
	return err
}

func (s *Service) AssignUser(ctx context.Context, userID int64, endpointID uuid.UUID) error {
	if _, err := s.GetEndpoint(ctx, endpointID); err != nil {
		return err
	}
	return s.store.Assign(ctx, userID, endpointID)
}

func (s *Service) UnassignUser(ctx context.Context, userID int64, endpointID uuid.UUID) error {
	return s.store.Unassign(ctx, userID, endpointID)
}

// normalize trims the name, defaults an empty event mask to EventAll, and
// runs the kind's config schema validation.
func (s *Service) normalize(ep *kit.Endpoint) error {
	ep.Name = strings.TrimSpace(ep.Name)
	if ep.Name == "" {
		return fmt.Errorf("notify: endpoint name is required")
	}
	if ep.Types == 0 {
		ep.Types = kit.EventAll
	}
	if ep.Config == nil {
		ep.Config = map[string]string{}
	}

	adapter, err := s.registry.Get(ep.Kind)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownKind, ep.Kind)
	}
	if err := adapter.Validate(ep.Config); err != nil {
		return fmt.Errorf("notify: invalid %s config: %w", ep.Kind, err)
	}
	return nil
}
