package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertLink(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLinkRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO parent_students (parent_id, student_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (parent_id, student_id) DO NOTHING")).
		WithArgs("p1", "s1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Insert(context.Background(), "p1", "s1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLinkDuplicateIsNoop(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLinkRepository(db)

	mock.ExpectExec("INSERT INTO parent_students").
		WithArgs("p1", "s1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Insert(context.Background(), "p1", "s1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByParentOrderedByCreation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLinkRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"parent_id", "student_id", "created_at"}).
		AddRow("p1", "s1", now.Add(-time.Hour)).
		AddRow("p1", "s2", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT parent_id, student_id, created_at FROM parent_students WHERE parent_id = $1 ORDER BY created_at ASC, student_id ASC")).
		WithArgs("p1").
		WillReturnRows(rows)

	links, err := repo.ListByParent(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "s1", links[0].StudentID)
	assert.Equal(t, "s2", links[1].StudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLink(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLinkRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM parent_students WHERE parent_id = $1 AND student_id = $2")).
		WithArgs("p1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(context.Background(), "p1", "s1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChildren(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLinkRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow("s1", "Sam Pupil").
		AddRow("s2", "Ana Pupil")
	mock.ExpectQuery("SELECT u.id, u.first_name").
		WithArgs("p1").
		WillReturnRows(rows)

	children, err := repo.Children(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "Sam Pupil", children[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
