package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/verification-api/internal/domain"
)

// TicketStore is the in-memory ticket mapping. Reserve has the same
// winner-takes-the-slot semantics as the DynamoDB conditional put.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket // by requester id
}

func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[string]*domain.Ticket)}
}

func (s *TicketStore) Reserve(_ context.Context, t *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[t.RequesterID]; exists {
		return fmt.Errorf("ticket already open: %w", domain.ErrConflict)
	}
	clone := *t
	s.tickets[t.RequesterID] = &clone
	return nil
}

func (s *TicketStore) Get(_ context.Context, requesterID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[requesterID]
	if !ok {
		return nil, fmt.Errorf("ticket not found: %w", domain.ErrNotFound)
	}
	clone := *t
	return &clone, nil
}

func (s *TicketStore) SetChannel(_ context.Context, requesterID, channelRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[requesterID]
	if !ok {
		return fmt.Errorf("ticket not found: %w", domain.ErrNotFound)
	}
	t.ChannelRef = channelRef
	return nil
}

func (s *TicketStore) Delete(_ context.Context, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, requesterID)
	return nil
}

func (s *TicketStore) List(_ context.Context) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, *t)
	}
	return out, nil
}
