package assertion

import (
	"context"
	"fmt"
	"log/slog"

	"openbadger/internal/directory"
)

// Fetcher retrieves a recipient's assertions from the issuer. The issuance
// client satisfies this.
type Fetcher interface {
	Assertions(ctx context.Context, email string) ([]Assertion, error)
}

// Service answers "which badges has this user earned" by reading through the
// cache to the issuer. Assertions change rarely, so a short TTL of staleness
// is an accepted trade for keeping issuer traffic down.
type Service struct {
	fetcher Fetcher
	cache   Cache
	dir     directory.Directory
	log     *slog.Logger
}

func NewService(fetcher Fetcher, cache Cache, dir directory.Directory, log *slog.Logger) *Service {
	return &Service{fetcher: fetcher, cache: cache, dir: dir, log: log}
}

// ForUser lists the user's assertions under the address their badges were
// issued to: the backpack address when registered, the account email
// otherwise.
func (s *Service) ForUser(ctx context.Context, userID string) ([]Assertion, error) {
	email, err := s.dir.BackpackEmail(ctx, userID)
	if err != nil || email == "" {
		email, err = s.dir.PrimaryEmail(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve address for %s: %w", userID, err)
		}
	}
	return s.ForRecipient(ctx, email)
}

// ForRecipient lists the assertions held for one address.
func (s *Service) ForRecipient(ctx context.Context, email string) ([]Assertion, error) {
	if cached, ok, err := s.cache.Get(ctx, email); err == nil && ok {
		return cached, nil
	} else if err != nil {
		// A broken cache degrades to issuer reads, not to failure.
		s.log.Warn("assertion cache read failed", "error", err)
	}

	assertions, err := s.fetcher.Assertions(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("fetch assertions: %w", err)
	}

	if err := s.cache.Set(ctx, email, assertions); err != nil {
		s.log.Warn("assertion cache write failed", "error", err)
	}
	return assertions, nil
}
