package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrariahq/agraria-api/internal/models"
)

func newInstanceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func instanceRows(id string, status models.InstanceStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "workflow_id", "approvable_type", "approvable_id", "status", "current_step_id", "submitted_by", "completed_at", "created_at", "updated_at"}).
		AddRow(id, "wf-1", "program", "prog-1", string(status), nil, "u1", nil, time.Now(), time.Now())
}

func TestInstanceRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newInstanceRepoMock(t)
	defer cleanup()
	repo := NewApprovalInstanceRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM approval_instances WHERE id = \\$1").
		WithArgs("i1").
		WillReturnRows(instanceRows("i1", models.StatusPending))

	inst, err := repo.FindByID(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, "i1", inst.ID)
	assert.Equal(t, models.StatusPending, inst.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositoryFindActiveByApprovable(t *testing.T) {
	db, mock, cleanup := newInstanceRepoMock(t)
	defer cleanup()
	repo := NewApprovalInstanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("status NOT IN ('approved', 'rejected', 'cancelled')")).
		WithArgs("program", "prog-1").
		WillReturnRows(instanceRows("i1", models.StatusInProgress))

	inst, err := repo.FindActiveByApprovable(context.Background(), "program", "prog-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, inst.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositoryList(t *testing.T) {
	db, mock, cleanup := newInstanceRepoMock(t)
	defer cleanup()
	repo := NewApprovalInstanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM approval_instances WHERE 1=1 AND status = $1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("in_progress").
		WillReturnRows(instanceRows("i1", models.StatusInProgress))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM approval_instances WHERE 1=1 AND status = $1")).
		WithArgs("in_progress").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.ApprovalInstanceFilter{Status: models.StatusInProgress})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newInstanceRepoMock(t)
	defer cleanup()
	repo := NewApprovalInstanceRepository(db)

	mock.ExpectExec("INSERT INTO approval_instances").
		WillReturnResult(sqlmock.NewResult(1, 1))

	inst := &models.ApprovalInstance{
		WorkflowID:     "wf-1",
		ApprovableType: "program",
		ApprovableID:   "prog-1",
		Status:         models.StatusPending,
		SubmittedBy:    "u1",
	}
	require.NoError(t, repo.Create(context.Background(), inst))
	assert.NotEmpty(t, inst.ID)
	assert.False(t, inst.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositoryWithInstanceLock(t *testing.T) {
	db, mock, cleanup := newInstanceRepoMock(t)
	defer cleanup()
	repo := NewApprovalInstanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM approval_instances WHERE id = $1 FOR UPDATE")).
		WithArgs("i1").
		WillReturnRows(instanceRows("i1", models.StatusInProgress))
	mock.ExpectExec("INSERT INTO approval_actions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT actor_id) FROM approval_actions WHERE instance_id = $1 AND step_id = $2 AND action_type = 'approve' AND created_at > COALESCE(")).
		WithArgs("i1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("UPDATE approval_instances SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.WithInstanceLock(context.Background(), "i1", func(ctx context.Context, tx ApprovalInstanceTx) error {
		inst := tx.Instance()
		require.Equal(t, "i1", inst.ID)

		stepID := "s1"
		if err := tx.InsertAction(ctx, &models.ApprovalAction{
			InstanceID: inst.ID,
			StepID:     &stepID,
			ActorID:    "u2",
			ActionType: models.ActionApprove,
		}); err != nil {
			return err
		}
		count, err := tx.CountApprovals(ctx, "s1")
		if err != nil {
			return err
		}
		require.Equal(t, 2, count)

		inst.Status = models.StatusApproved
		return tx.UpdateInstance(ctx, inst)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositoryWithInstanceLockRollsBack(t *testing.T) {
	db, mock, cleanup := newInstanceRepoMock(t)
	defer cleanup()
	repo := NewApprovalInstanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("i1").
		WillReturnRows(instanceRows("i1", models.StatusInProgress))
	mock.ExpectRollback()

	err := repo.WithInstanceLock(context.Background(), "i1", func(ctx context.Context, tx ApprovalInstanceTx) error {
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositoryListActions(t *testing.T) {
	db, mock, cleanup := newInstanceRepoMock(t)
	defer cleanup()
	repo := NewApprovalInstanceRepository(db)

	rows := sqlmock.NewRows([]string{"id", "instance_id", "step_id", "actor_id", "action_type", "comments", "created_at"}).
		AddRow("a1", "i1", "s1", "u1", "approve", nil, time.Now()).
		AddRow("a2", "i1", "s1", "u2", "reject", "too costly", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM approval_actions WHERE instance_id = $1 ORDER BY created_at ASC")).
		WithArgs("i1").
		WillReturnRows(rows)

	actions, err := repo.ListActions(context.Background(), "i1")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, models.ActionReject, actions[1].ActionType)
	require.NotNil(t, actions[1].Comments)
	assert.Equal(t, "too costly", *actions[1].Comments)
	assert.NoError(t, mock.ExpectationsWereMet())
}
