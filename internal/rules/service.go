package rules

import (
	"context"
	"log/slog"
)

// RepositoryPort abstracts rule persistence.
type RepositoryPort interface {
	Resolve(ctx context.Context, tenantID int64, origin Origin, categoryID int64) (PostingRule, error)
	Insert(ctx context.Context, in CreateInput) (PostingRule, error)
	List(ctx context.Context, tenantID int64) ([]PostingRule, error)
	Deactivate(ctx context.Context, id int64) error
}

// LeafChecker reports whether an account accepts journal postings.
type LeafChecker interface {
	IsLeaf(ctx context.Context, accountID int64) (bool, error)
}

// Service coordinates rule resolution and configuration.
type Service struct {
	repo   RepositoryPort
	leaves LeafChecker
	logger *slog.Logger
}

// NewService constructs the rule service.
func NewService(repo RepositoryPort, leaves LeafChecker, logger *slog.Logger) *Service {
	return &Service{repo: repo, leaves: leaves, logger: logger}
}

// Resolve returns the automatic rule configured for the event coordinates.
// ErrRuleNotFound is an expected outcome, not a system error.
func (s *Service) Resolve(ctx context.Context, tenantID int64, origin Origin, categoryID int64) (PostingRule, error) {
	return s.repo.Resolve(ctx, tenantID, origin, categoryID)
}

// Create validates account references and stores a new rule. Both configured
// accounts must be leaves at configuration time; the posting engine re-checks
// at posting time because the chart may change afterwards.
func (s *Service) Create(ctx context.Context, input CreateInput) (PostingRule, error) {
	if err := input.Validate(); err != nil {
		return PostingRule{}, err
	}
	for _, accountID := range []int64{input.DebitAccountID, input.CreditAccountID} {
		leaf, err := s.leaves.IsLeaf(ctx, accountID)
		if err != nil {
			return PostingRule{}, err
		}
		if !leaf {
			return PostingRule{}, ErrAccountNotPostable
		}
	}
	rule, err := s.repo.Insert(ctx, input)
	if err != nil {
		return PostingRule{}, err
	}
	s.logger.Info("posting rule created",
		slog.Int64("id", rule.ID),
		slog.Int64("tenant", rule.TenantID),
		slog.String("origin", string(rule.Origin)))
	return rule, nil
}

// List returns all rules for a tenant.
func (s *Service) List(ctx context.Context, tenantID int64) ([]PostingRule, error) {
	return s.repo.List(ctx, tenantID)
}

// Deactivate removes a rule from resolution without deleting its history.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.Deactivate(ctx, id)
}
