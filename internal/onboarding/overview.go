package onboarding

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"etinuxe/internal/db"
	"etinuxe/internal/journey"
	"etinuxe/internal/models"
	"etinuxe/internal/pricing"
)

// Overview gathers every record held for a user and resolves their stage.
func (s *Service) Overview(ctx context.Context, userID uuid.UUID) (*models.UserOverview, error) {
	o := &models.UserOverview{}
	err := s.store.Read(ctx, func(q db.Queries) error {
		user, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		o.User = user

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			o.Requests, err = q.ListRequests(gctx, &userID)
			return err
		})
		g.Go(func() (err error) {
			o.Payments, err = q.ListPayments(gctx, &userID)
			return err
		})
		g.Go(func() (err error) {
			o.DNATokens, err = q.ListDNATokens(gctx, userID)
			return err
		})
		g.Go(func() (err error) {
			o.MiniaturizationTokens, err = q.ListMiniTokens(gctx, &userID)
			return err
		})
		g.Go(func() (err error) {
			o.InsurancePolicies, err = q.ListPolicies(gctx, &userID)
			return err
		})
		g.Go(func() (err error) {
			o.MemoryLogs, err = q.ListMemoryLogs(gctx, userID, 0)
			return err
		})
		g.Go(func() (err error) {
			o.MemorySummary, err = q.PointsSummary(gctx, userID)
			return err
		})
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	o.Requests = orEmpty(o.Requests)
	o.Payments = orEmpty(o.Payments)
	o.DNATokens = orEmpty(o.DNATokens)
	o.MiniaturizationTokens = orEmpty(o.MiniaturizationTokens)
	o.InsurancePolicies = orEmpty(o.InsurancePolicies)
	o.MemoryLogs = orEmpty(o.MemoryLogs)

	o.Stage = string(journey.Resolve(o))
	return o, nil
}

// orEmpty keeps empty lists encoding as [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// AdminOverview totals the records across all users. Recurring insurance
// revenue counts the monthly premium of every active policy.
func (s *Service) AdminOverview(ctx context.Context) (*models.AdminSummary, error) {
	var (
		users    []models.User
		requests []models.MiniaturizationRequest
		payments []models.Payment
		policies []models.InsurancePolicy
		tokens   []models.MiniaturizationToken
	)
	err := s.store.Read(ctx, func(q db.Queries) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			users, err = q.ListUsers(gctx)
			return err
		})
		g.Go(func() (err error) {
			requests, err = q.ListRequests(gctx, nil)
			return err
		})
		g.Go(func() (err error) {
			payments, err = q.ListPayments(gctx, nil)
			return err
		})
		g.Go(func() (err error) {
			policies, err = q.ListPolicies(gctx, nil)
			return err
		})
		g.Go(func() (err error) {
			tokens, err = q.ListMiniTokens(gctx, nil)
			return err
		})
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	sum := &models.AdminSummary{
		TotalUsers:    len(users),
		TotalRequests: len(requests),
		TotalPayments: len(payments),
	}
	for _, p := range payments {
		if p.Status == models.PaymentCaptured {
			sum.TotalRevenue += p.AmountUSD
		}
	}
	for _, p := range policies {
		if p.Status == models.PolicyActive {
			sum.InsurancePolicies++
			sum.InsuranceRecurringRevenue += p.FinalPremium
		}
	}
	for _, t := range tokens {
		switch t.Status {
		case models.RequestAwaitingApproval:
			sum.PendingTokens++
		case models.RequestApproved:
			sum.ApprovedTokens++
		}
	}
	sum.TotalRevenue = pricing.Round2(sum.TotalRevenue)
	sum.InsuranceRecurringRevenue = pricing.Round2(sum.InsuranceRecurringRevenue)
	return sum, nil
}

func (s *Service) Requests(ctx context.Context) ([]models.MiniaturizationRequest, error) {
	var out []models.MiniaturizationRequest
	err := s.store.Read(ctx, func(q db.Queries) (err error) {
		out, err = q.ListRequests(ctx, nil)
		return err
	})
	return orEmpty(out), err
}

func (s *Service) Payments(ctx context.Context) ([]models.Payment, error) {
	var out []models.Payment
	err := s.store.Read(ctx, func(q db.Queries) (err error) {
		out, err = q.ListPayments(ctx, nil)
		return err
	})
	return orEmpty(out), err
}
