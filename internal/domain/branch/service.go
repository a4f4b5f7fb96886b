package branch

import (
	"context"

	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/cache"
)

const cacheKey = "branches"

type Service struct {
	repo  Repository
	cache *cache.Cache
}

// NewService returns a branch directory reader. c may be nil.
func NewService(repo Repository, c *cache.Cache) *Service {
	return &Service{repo: repo, cache: c}
}

// List returns every branch ordered by name.
func (s *Service) List(ctx context.Context) ([]Branch, error) {
	var branches []Branch
	if s.cache.GetJSON(ctx, cacheKey, &branches) {
		return branches, nil
	}
	branches, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Storage("list branches", err)
	}
	if branches == nil {
		branches = []Branch{}
	}
	s.cache.SetJSON(ctx, cacheKey, branches)
	return branches, nil
}
