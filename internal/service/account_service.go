package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/linkedin-scheduler/internal/localtime"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/internal/repository"
	"github.com/maheshrc27/linkedin-scheduler/internal/transfer"
	"github.com/maheshrc27/linkedin-scheduler/pkg/utils"
)

// AccountService connects and disconnects a user's LinkedIn account. The
// OAuth state parameter is the user's signed session token.
type AccountService interface {
	AuthURL(state string) (string, error)
	Callback(ctx context.Context, code, state string) (int64, error)
	Status(ctx context.Context, userID int64) (*transfer.LinkedInStatusResponse, error)
	Disconnect(ctx context.Context, userID int64) error
}

type accountService struct {
	secretKey string
	creds     repository.CredentialRepository
	linkedin  LinkedInService
	now       func() time.Time
}

func NewAccountService(secretKey string, creds repository.CredentialRepository, li LinkedInService) AccountService {
	return &accountService{
		secretKey: secretKey,
		creds:     creds,
		linkedin:  li,
		now:       time.Now,
	}
}

func (s *accountService) userFromState(state string) (int64, error) {
	claims, err := utils.ValidateToken(s.secretKey, state)
	if err != nil {
		return 0, fmt.Errorf("%w: unable to validate user", models.ErrValidation)
	}
	return utils.UserIDFromClaims(claims)
}

func (s *accountService) AuthURL(state string) (string, error) {
	if _, err := s.userFromState(state); err != nil {
		return "", err
	}
	return s.linkedin.AuthURL(state), nil
}

func (s *accountService) Callback(ctx context.Context, code, state string) (int64, error) {
	userID, err := s.userFromState(state)
	if err != nil {
		return 0, err
	}

	token, err := s.linkedin.Exchange(ctx, code)
	if err != nil {
		return 0, err
	}

	info, err := s.linkedin.UserInfo(ctx, token.AccessToken)
	if err != nil {
		return 0, err
	}

	cred := &models.Credential{
		UserID:       userID,
		MemberURN:    "urn:li:person:" + info.Sub,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    tokenExpiry(token, s.now()),
	}
	if err := s.creds.Put(ctx, cred); err != nil {
		return 0, fmt.Errorf("error saving linkedin credential: %w", err)
	}

	slog.Info("linkedin account connected",
		slog.Int64("user_id", userID),
		slog.String("member_urn", cred.MemberURN),
		slog.Time("expires_at", cred.ExpiresAt))
	return userID, nil
}

func (s *accountService) Status(ctx context.Context, userID int64) (*transfer.LinkedInStatusResponse, error) {
	cred, err := s.creds.Get(ctx, userID)
	if errors.Is(err, models.ErrNotConnected) {
		return &transfer.LinkedInStatusResponse{Connected: false}, nil
	}
	if err != nil {
		return nil, err
	}

	return &transfer.LinkedInStatusResponse{
		Connected: true,
		MemberURN: cred.MemberURN,
		ExpiresAt: localtime.FormatInstant(cred.ExpiresAt),
		Expired:   cred.ExpiredAt(s.now()) && cred.RefreshToken == "",
	}, nil
}

func (s *accountService) Disconnect(ctx context.Context, userID int64) error {
	return s.creds.Remove(ctx, userID)
}
