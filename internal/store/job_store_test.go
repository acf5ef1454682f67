package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/PortNumber53/saas-starter/internal/models"
)

func newMockJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &JobStore{db: db}, mock
}

func TestEnqueueDuplicate(t *testing.T) {
	s, mock := newMockJobStore(t)

	key := "webhook_reprocess:evt_1"
	mock.ExpectQuery(`INSERT INTO jobs .* ON CONFLICT \(dedupe_key\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))

	job := &models.Job{
		JobType:     models.JobTypeWebhookReprocess,
		Payload:     models.JSONB{"event_id": "evt_1"},
		MaxAttempts: 3,
		DedupeKey:   &key,
	}
	if err := s.Enqueue(context.Background(), job); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	s, _ := newMockJobStore(t)

	if err := s.Enqueue(context.Background(), &models.Job{MaxAttempts: 1}); err == nil {
		t.Fatal("expected error for job without type")
	}
}

func TestClaimNextJobEmptyQueue(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectQuery(`UPDATE jobs\s+SET status = 'processing'`).
		WithArgs("worker-1").
		WillReturnError(sql.ErrNoRows)

	job, err := s.ClaimNextJob(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimNextJob returned error: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no job, got %+v", job)
	}
}

func TestClaimNextJobScansRow(t *testing.T) {
	s, mock := newMockJobStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "job_type", "payload", "status", "priority", "attempts", "max_attempts", "dedupe_key",
		"created_at", "updated_at", "scheduled_for", "last_error", "retry_after",
		"processed_at", "completed_at", "worker_id", "metadata",
	}).AddRow(7, models.JobTypeWebhookReprocess, []byte(`{"event_id":"evt_1"}`), "processing", "normal", 1, 8,
		"webhook_reprocess:evt_1", now, now, nil, nil, nil, now, nil, "worker-1", []byte(`{}`))
	mock.ExpectQuery(`UPDATE jobs`).WithArgs("worker-1").WillReturnRows(rows)

	job, err := s.ClaimNextJob(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimNextJob returned error: %v", err)
	}
	if job.ID != 7 || job.Payload.String("event_id") != "evt_1" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.DedupeKey == nil || *job.DedupeKey != "webhook_reprocess:evt_1" {
		t.Fatalf("unexpected dedupe key: %v", job.DedupeKey)
	}
}

func TestCancelJobNotCancellable(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET status = 'cancelled'`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.CancelJob(context.Background(), 3); !errors.Is(err, ErrJobNotCancellable) {
		t.Fatalf("expected ErrJobNotCancellable, got %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	if _, err := s.GetByID(context.Background(), 99); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRetryJobOpenDuplicate(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET status = 'pending', attempts = 0`).
		WithArgs(int64(4)).
		WillReturnError(&pq.Error{Code: "23505"})

	if err := s.RetryJob(context.Background(), 4); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestRetryJobNotFailed(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET status = 'pending', attempts = 0`).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RetryJob(context.Background(), 4); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestReclaimStaleJobs(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectExec(`WHERE status = 'processing'\s+AND processed_at <`).
		WithArgs(float64(600)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.ReclaimStaleJobs(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStaleJobs returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reclaimed jobs, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
