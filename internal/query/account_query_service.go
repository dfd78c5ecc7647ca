package query

import (
	"context"

	"github.com/hstar0124/cpp-boost-chat/shared/cqrs"
	"github.com/hstar0124/cpp-boost-chat/shared/models"
)

type AccountViewReader interface {
	GetView(ctx context.Context, userID string) (*models.AccountView, models.StatusCode)
}

// AccountQueryService reads account views from the Redis cache (with a Postgres fallback).
type AccountQueryService struct {
	readRepo AccountViewReader
}

func NewAccountQueryService(readRepo AccountViewReader) *AccountQueryService {
	return &AccountQueryService{readRepo: readRepo}
}

func (s *AccountQueryService) GetUser(ctx context.Context, q cqrs.GetUserQuery) models.Response {
	view, status := s.readRepo.GetView(ctx, q.UserID)
	if status != models.Success {
		return models.NewResponse(status, status.FailureMessage(), nil)
	}
	return models.NewResponse(models.Success, "User retrieved successfully", view)
}
