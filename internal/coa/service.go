package coa

import (
	"context"
	"log/slog"
)

// maxDepth bounds ancestry walks. A chart deeper than this indicates corrupt
// parent links rather than a legitimate hierarchy.
const maxDepth = 64

// Service coordinates chart of accounts maintenance and reads.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService constructs the chart of accounts service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create inserts a new account node. Attaching a child under a previously
// postable parent demotes the parent to a summary account in the same
// transaction; summary accounts can never be posting targets.
func (s *Service) Create(ctx context.Context, input CreateInput) (Account, error) {
	if err := input.Validate(); err != nil {
		return Account{}, err
	}
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.ParentID != nil {
			parent, err := tx.GetAccountForUpdate(ctx, *input.ParentID)
			if err != nil {
				if err == ErrAccountNotFound {
					return ErrParentNotFound
				}
				return err
			}
			if parent.Type.Category() != input.Type.Category() {
				return ErrCategoryMismatch
			}
			if err := ensureAcyclic(ctx, tx, parent); err != nil {
				return err
			}
			if parent.AcceptsPosting {
				if err := tx.SetAcceptsPosting(ctx, parent.ID, false); err != nil {
					return err
				}
			}
		}
		inserted, err := tx.InsertAccount(ctx, input)
		if err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("account created",
		slog.Int64("id", created.ID),
		slog.String("code", created.Code),
		slog.String("type", string(created.Type)))
	return created, nil
}

// ensureAcyclic walks the parent chain from node to root, rejecting any loop
// before a write happens.
func ensureAcyclic(ctx context.Context, tx TxRepository, node Account) error {
	seen := map[int64]struct{}{node.ID: {}}
	current := node
	for depth := 0; current.ParentID != nil; depth++ {
		if depth >= maxDepth {
			return ErrParentCycle
		}
		next, err := tx.GetAccount(ctx, *current.ParentID)
		if err != nil {
			if err == ErrAccountNotFound {
				return ErrParentNotFound
			}
			return err
		}
		if _, ok := seen[next.ID]; ok {
			return ErrParentCycle
		}
		seen[next.ID] = struct{}{}
		current = next
	}
	return nil
}

// Get retrieves a single account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, id)
		return err
	})
	return account, err
}

// List retrieves all accounts ordered by code.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// IsLeaf reports whether the account accepts journal postings.
func (s *Service) IsLeaf(ctx context.Context, id int64) (bool, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return account.AcceptsPosting, nil
}

// AncestryPath returns the chain from the root down to the requested node.
func (s *Service) AncestryPath(ctx context.Context, id int64) ([]Account, error) {
	var path []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		node, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		chain := []Account{node}
		seen := map[int64]struct{}{node.ID: {}}
		current := node
		for depth := 0; current.ParentID != nil; depth++ {
			if depth >= maxDepth {
				return ErrParentCycle
			}
			next, err := tx.GetAccount(ctx, *current.ParentID)
			if err != nil {
				return err
			}
			if _, ok := seen[next.ID]; ok {
				return ErrParentCycle
			}
			seen[next.ID] = struct{}{}
			chain = append(chain, next)
			current = next
		}
		// Collected node-to-root; callers expect root-to-node.
		path = make([]Account, 0, len(chain))
		for i := len(chain) - 1; i >= 0; i-- {
			path = append(path, chain[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return path, nil
}

// Deactivate soft-disables an account without removing history.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetActive(ctx, id, false)
	})
}
