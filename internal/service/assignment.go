package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/infra/cache"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var assignmentTracer = otel.Tracer("service/assignment")

// maxOfficerLookups bounds concurrent user reads in the workload report.
const maxOfficerLookups = 8

// AssignmentService picks loan officers for new applications.
type AssignmentService struct {
	store   port.RecordStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAssignmentService creates a new assignment service.
func NewAssignmentService(store port.RecordStore, metrics *observability.Metrics, logger *zap.Logger) *AssignmentService {
	return &AssignmentService{store: store, metrics: metrics, logger: logger}
}

type assignmentInputs struct {
	queue        []domain.LoanOfficerQueueEntry
	applications []domain.LoanApplication
	loans        []domain.Loan
}

// loadInputs reads the queue, applications and loans concurrently.
func (s *AssignmentService) loadInputs(ctx context.Context) (*assignmentInputs, error) {
	in := &assignmentInputs{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.store.List(gctx, domain.TableOfficerQueue, "queue_position", &in.queue); err != nil {
			return fmt.Errorf("list officer queue: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.store.List(gctx, domain.TableLoanApplications, "", &in.applications); err != nil {
			return fmt.Errorf("list applications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.store.List(gctx, domain.TableLoans, "", &in.loans); err != nil {
			return fmt.Errorf("list loans: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// NextOfficer returns the officer a new application should be assigned
// to, or "" when the active queue is empty.
func (s *AssignmentService) NextOfficer(ctx context.Context) (string, error) {
	ctx, span := assignmentTracer.Start(ctx, "AssignmentService.NextOfficer")
	defer span.End()

	in, err := s.loadInputs(ctx)
	if err != nil {
		return "", err
	}
	queue := ActiveQueue(in.queue)
	workload := ComputeWorkload(in.applications, in.loans)

	officer, ok := SelectOfficer(queue, workload)
	if !ok {
		s.logger.Warn("officer queue is empty")
		return "", nil
	}
	span.SetAttributes(
		attribute.String("officer.id", officer),
		attribute.Int("officer.workload", workload[officer]),
	)
	s.logger.Debug("officer selected",
		zap.String("officer_id", officer),
		zap.Int("workload", workload[officer]),
		zap.Int("queue_size", len(queue)),
	)
	return officer, nil
}

// WorkloadReport lists every active queue entry with its workload and the
// officer NextOfficer would pick. Officer records are memoized in users,
// which the caller scopes (usually to one request); nil uses a fresh cache.
func (s *AssignmentService) WorkloadReport(ctx context.Context, users port.Cache[*domain.User]) (*domain.WorkloadReport, error) {
	ctx, span := assignmentTracer.Start(ctx, "AssignmentService.WorkloadReport")
	defer span.End()

	in, err := s.loadInputs(ctx)
	if err != nil {
		return nil, err
	}
	queue := ActiveQueue(in.queue)
	workload := ComputeWorkload(in.applications, in.loans)

	if users == nil {
		local := cache.New[*domain.User](0)
		defer local.Close()
		users = local
	}
	s.loadOfficers(ctx, queue, users)

	report := &domain.WorkloadReport{Officers: make([]domain.OfficerWorkload, 0, len(queue))}
	for _, e := range queue {
		row := domain.OfficerWorkload{
			LoanOfficerID: e.LoanOfficerID,
			QueuePosition: e.QueuePosition,
			Workload:      workload[e.LoanOfficerID],
		}
		if u, ok := users.Get(e.LoanOfficerID); ok && u != nil {
			row.FullName = u.FullName
			row.Email = u.Email
		}
		report.Officers = append(report.Officers, row)
	}
	report.NextOfficer, _ = SelectOfficer(queue, workload)
	span.SetAttributes(attribute.Int("officers", len(report.Officers)))
	return report, nil
}

// loadOfficers fetches officer user records concurrently into users.
// Failures leave the display fields blank.
func (s *AssignmentService) loadOfficers(ctx context.Context, queue []domain.LoanOfficerQueueEntry, users port.Cache[*domain.User]) {
	ids := make([]string, 0, len(queue))
	for _, e := range queue {
		ids = append(ids, e.LoanOfficerID)
	}

	var g errgroup.Group
	g.SetLimit(maxOfficerLookups)
	for _, id := range domain.UniqueIDs(ids) {
		if _, ok := users.Get(id); ok {
			if s.metrics != nil {
				s.metrics.IncrCacheHit("officer_users")
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.IncrCacheMiss("officer_users")
		}
		g.Go(func() error {
			var u domain.User
			if err := s.store.Get(ctx, domain.TableUsers, id, &u); err != nil {
				s.logger.Warn("officer lookup failed", zap.String("officer_id", id), zap.Error(err))
				return nil
			}
			users.Set(id, &u)
			return nil
		})
	}
	_ = g.Wait()
}
