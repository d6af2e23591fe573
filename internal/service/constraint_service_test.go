package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type constraintStoreStub struct {
	byID       map[string]models.ScheduleConstraint
	nextID     int
	lastFilter models.ConstraintFilter
}

func newConstraintStoreStub() *constraintStoreStub {
	return &constraintStoreStub{byID: make(map[string]models.ScheduleConstraint)}
}

func (s *constraintStoreStub) Create(ctx context.Context, constraint *models.ScheduleConstraint) error {
	s.nextID++
	constraint.ID = fmt.Sprintf("con-%d", s.nextID)
	constraint.CreatedAt = time.Now()
	constraint.UpdatedAt = constraint.CreatedAt
	s.byID[constraint.ID] = *constraint
	return nil
}

func (s *constraintStoreStub) FindByID(ctx context.Context, id string) (*models.ScheduleConstraint, error) {
	constraint, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := constraint
	return &cp, nil
}

func (s *constraintStoreStub) List(ctx context.Context, filter models.ConstraintFilter) ([]models.ScheduleConstraint, error) {
	s.lastFilter = filter
	out := make([]models.ScheduleConstraint, 0, len(s.byID))
	for _, constraint := range s.byID {
		if filter.ActiveOnly && !constraint.Active {
			continue
		}
		out = append(out, constraint)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *constraintStoreStub) Update(ctx context.Context, constraint *models.ScheduleConstraint) error {
	if _, ok := s.byID[constraint.ID]; !ok {
		return sql.ErrNoRows
	}
	constraint.UpdatedAt = time.Now()
	s.byID[constraint.ID] = *constraint
	return nil
}

func (s *constraintStoreStub) Delete(ctx context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.byID, id)
	return nil
}

func newConstraintFixture() (*ConstraintService, *constraintStoreStub) {
	store := newConstraintStoreStub()
	return NewConstraintService(store, validator.New(), zap.NewNop()), store
}

func forbiddenDayRequest() dto.CreateConstraintRequest {
	subjectID := "sub-1"
	day := 4
	return dto.CreateConstraintRequest{
		AcademicYearID: "ay-2026",
		Type:           "forbidden",
		SubjectID:      &subjectID,
		Day:            &day,
		SessionType:    "both",
		Priority:       3,
		Description:    "no lab work on Fridays",
	}
}

func TestConstraintServiceCreate(t *testing.T) {
	service, store := newConstraintFixture()

	constraint, err := service.Create(context.Background(), forbiddenDayRequest())
	require.NoError(t, err)
	assert.Equal(t, "con-1", constraint.ID)
	assert.Equal(t, models.ConstraintForbidden, constraint.Type)
	assert.True(t, constraint.Active, "rules default to active")
	require.NotNil(t, constraint.Day)
	assert.Equal(t, 4, *constraint.Day)

	stored, ok := store.byID["con-1"]
	require.True(t, ok)
	assert.Equal(t, "ay-2026", stored.AcademicYearID)
}

func TestConstraintServiceCreateInactive(t *testing.T) {
	service, _ := newConstraintFixture()

	req := forbiddenDayRequest()
	inactive := false
	req.Active = &inactive

	constraint, err := service.Create(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, constraint.Active)
}

func TestConstraintServiceCreateRejectsPayload(t *testing.T) {
	service, store := newConstraintFixture()

	req := forbiddenDayRequest()
	req.Type = "banned"

	_, err := service.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.byID)
}

func TestConstraintServiceCreateRejectsShape(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*dto.CreateConstraintRequest)
		message string
	}{
		{
			name: "unscoped forbidden rule",
			mutate: func(req *dto.CreateConstraintRequest) {
				req.Day = nil
			},
			message: "whole week",
		},
		{
			name: "required rule without window",
			mutate: func(req *dto.CreateConstraintRequest) {
				req.Type = "required"
				req.Day = nil
			},
			message: "period or period range",
		},
		{
			name: "max_consecutive without limit",
			mutate: func(req *dto.CreateConstraintRequest) {
				req.Type = "max_consecutive"
			},
			message: "maxConsecutive",
		},
		{
			name: "min_break without gap",
			mutate: func(req *dto.CreateConstraintRequest) {
				req.Type = "min_break"
			},
			message: "minBreak",
		},
		{
			name: "inverted period range",
			mutate: func(req *dto.CreateConstraintRequest) {
				req.Type = "required"
				start, end := 4, 1
				req.PeriodRangeStart = &start
				req.PeriodRangeEnd = &end
			},
			message: "periodRangeStart",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service, store := newConstraintFixture()
			req := forbiddenDayRequest()
			tc.mutate(&req)

			_, err := service.Create(context.Background(), req)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
			assert.Contains(t, appErr.Message, tc.message)
			assert.Empty(t, store.byID)
		})
	}
}

func TestConstraintServiceGet(t *testing.T) {
	service, _ := newConstraintFixture()
	created, err := service.Create(context.Background(), forbiddenDayRequest())
	require.NoError(t, err)

	got, err := service.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = service.Get(context.Background(), "con-missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = service.Get(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConstraintServiceList(t *testing.T) {
	service, store := newConstraintFixture()
	_, err := service.Create(context.Background(), forbiddenDayRequest())
	require.NoError(t, err)

	inactiveReq := forbiddenDayRequest()
	inactive := false
	inactiveReq.Active = &inactive
	_, err = service.Create(context.Background(), inactiveReq)
	require.NoError(t, err)

	constraints, err := service.List(context.Background(), dto.ConstraintQuery{
		AcademicYearID: "ay-2026",
		ActiveOnly:     true,
	})
	require.NoError(t, err)
	require.Len(t, constraints, 1)
	assert.Equal(t, "con-1", constraints[0].ID)
	assert.True(t, store.lastFilter.ActiveOnly)
	assert.Equal(t, "ay-2026", store.lastFilter.AcademicYearID)

	_, err = service.List(context.Background(), dto.ConstraintQuery{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConstraintServiceUpdate(t *testing.T) {
	service, store := newConstraintFixture()
	created, err := service.Create(context.Background(), forbiddenDayRequest())
	require.NoError(t, err)

	limit := 2
	inactive := false
	updated, err := service.Update(context.Background(), created.ID, dto.UpdateConstraintRequest{
		Type:           "max_consecutive",
		SubjectID:      created.SubjectID,
		MaxConsecutive: &limit,
		SessionType:    "morning",
		Priority:       2,
		Active:         &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConstraintMaxConsecutive, updated.Type)
	assert.Nil(t, updated.Day, "stale scope fields are replaced, not merged")
	assert.False(t, updated.Active)
	assert.Equal(t, 2, store.byID[created.ID].Priority)
}

func TestConstraintServiceUpdateRechecksShape(t *testing.T) {
	service, _ := newConstraintFixture()
	created, err := service.Create(context.Background(), forbiddenDayRequest())
	require.NoError(t, err)

	_, err = service.Update(context.Background(), created.ID, dto.UpdateConstraintRequest{
		Type:        "min_break",
		SessionType: "both",
		Priority:    1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConstraintServiceUpdateNotFound(t *testing.T) {
	service, _ := newConstraintFixture()

	limit := 2
	_, err := service.Update(context.Background(), "con-missing", dto.UpdateConstraintRequest{
		Type:           "max_consecutive",
		MaxConsecutive: &limit,
		SessionType:    "both",
		Priority:       1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestConstraintServiceDelete(t *testing.T) {
	service, store := newConstraintFixture()
	created, err := service.Create(context.Background(), forbiddenDayRequest())
	require.NoError(t, err)

	require.NoError(t, service.Delete(context.Background(), created.ID))
	assert.Empty(t, store.byID)

	err = service.Delete(context.Background(), created.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
