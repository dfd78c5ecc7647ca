package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hstar0124/cpp-boost-chat/shared/cqrs"
	"github.com/hstar0124/cpp-boost-chat/shared/events"
	"github.com/hstar0124/cpp-boost-chat/shared/models"
	"github.com/hstar0124/cpp-boost-chat/shared/utils"
)

type AccountWriter interface {
	Create(ctx context.Context, account *models.Account) models.StatusCode
	Update(ctx context.Context, account *models.Account) models.StatusCode
}

type AccountReader interface {
	ValidateCredentials(ctx context.Context, userID, password string) (models.StatusCode, *models.Account)
	IsAlive(ctx context.Context, accountID int64) (bool, models.StatusCode)
	CacheAccountView(ctx context.Context, view *models.AccountView)
	InvalidateAccountView(ctx context.Context, userID string)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
}

type SessionManager interface {
	CreateSession(ctx context.Context, token string, accountID int64) models.StatusCode
	Resolve(ctx context.Context, token string) (int64, models.StatusCode)
	DeleteSession(ctx context.Context, accountID int64) models.StatusCode
	KeepAliveToken(ctx context.Context, token string) models.StatusCode
	DeleteSessionToken(ctx context.Context, token string) models.StatusCode
}

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// ChatServer is the endpoint handed to clients after a successful login.
type ChatServer struct {
	IP   string
	Port string
}

// AccountCommandService writes account state to PostgreSQL, issues and
// revokes sessions in Redis and keeps the Redis read model up to date.
// The two stores are never mutated within the same call.
type AccountCommandService struct {
	writeRepo  AccountWriter
	readRepo   AccountReader
	hasher     PasswordHasher
	sessions   SessionManager
	publisher  EventPublisher
	chatServer ChatServer
	newToken   func() (string, error)
	log        logrus.FieldLogger
}

func NewAccountCommandService(
	writeRepo AccountWriter,
	readRepo AccountReader,
	hasher PasswordHasher,
	sessions SessionManager,
	publisher EventPublisher,
	chatServer ChatServer,
	log logrus.FieldLogger,
) *AccountCommandService {
	return &AccountCommandService{
		writeRepo:  writeRepo,
		readRepo:   readRepo,
		hasher:     hasher,
		sessions:   sessions,
		publisher:  publisher,
		chatServer: chatServer,
		newToken:   utils.GenerateSessionToken,
		log:        log,
	}
}

func failed(status models.StatusCode) models.Response {
	return models.NewResponse(status, status.FailureMessage(), nil)
}

// hashFailed reports an over-long password as a client error and anything else as ServerError.
func hashFailed(log logrus.FieldLogger, err error) models.Response {
	if errors.Is(err, utils.ErrPasswordTooLong) {
		return models.NewResponse(models.Failure, fmt.Sprintf("Password must be at most %d bytes", utils.MaxPasswordBytes), nil)
	}
	log.WithError(err).Error("failed to hash password")
	return failed(models.ServerError)
}

func (s *AccountCommandService) CreateUser(ctx context.Context, cmd cqrs.CreateUserCommand) models.Response {
	log := s.log.WithField("userId", cmd.UserID)

	passwordHash, err := s.hasher.Hash(cmd.Password)
	if err != nil {
		return hashFailed(log, err)
	}
	account := &models.Account{
		UserID:       cmd.UserID,
		PasswordHash: passwordHash,
		DisplayName:  cmd.Username,
		Email:        cmd.Email,
	}
	if status := s.writeRepo.Create(ctx, account); status != models.Success {
		return failed(status)
	}

	view := account.ToView()
	s.readRepo.CacheAccountView(ctx, view)
	s.publish(ctx, log, events.AccountCreated, events.AccountCreatedEvent{AccountID: account.ID, UserID: account.UserID})

	log.Info("account created")
	return models.NewResponse(models.Success, "User created successfully", view)
}

// Login validates credentials and replaces any session the account already
// holds with a fresh one.
func (s *AccountCommandService) Login(ctx context.Context, cmd cqrs.LoginCommand) models.Response {
	log := s.log.WithField("userId", cmd.UserID)

	status, account := s.readRepo.ValidateCredentials(ctx, cmd.UserID, cmd.Password)
	if status != models.Success {
		return failed(status)
	}

	token, err := s.newToken()
	if err != nil {
		log.WithError(err).Error("failed to generate session token")
		return failed(models.ServerError)
	}

	if status := s.sessions.CreateSession(ctx, token, account.ID); status != models.Success {
		log.WithField("sessionStatus", status.String()).Warn("session could not be issued")
		return models.NewResponse(models.Failure, "Login failed, please try again", nil)
	}

	log.Info("user logged in")
	return models.NewResponse(models.Success, "User login successfully", &models.LoginResult{
		ServerIP:   s.chatServer.IP,
		ServerPort: s.chatServer.Port,
		SessionID:  token,
	})
}

// UpdateUser re-checks the password, then applies only the non-empty fields.
func (s *AccountCommandService) UpdateUser(ctx context.Context, cmd cqrs.UpdateUserCommand) models.Response {
	log := s.log.WithField("userId", cmd.UserID)

	status, account := s.readRepo.ValidateCredentials(ctx, cmd.UserID, cmd.Password)
	if status != models.Success {
		return failed(status)
	}

	if cmd.NewPassword != "" {
		hash, err := s.hasher.Hash(cmd.NewPassword)
		if err != nil {
			return hashFailed(log, err)
		}
		account.PasswordHash = hash
	}
	if cmd.NewUsername != "" {
		account.DisplayName = cmd.NewUsername
	}
	if cmd.NewEmail != "" {
		account.Email = cmd.NewEmail
	}

	if status := s.writeRepo.Update(ctx, account); status != models.Success {
		return failed(status)
	}

	view := account.ToView()
	s.readRepo.CacheAccountView(ctx, view)
	s.publish(ctx, log, events.AccountUpdated, events.AccountUpdatedEvent{AccountID: account.ID, UserID: account.UserID})

	log.Info("account updated")
	return models.NewResponse(models.Success, "User updated successfully", view)
}

// DeleteUser soft-deletes the account. Its session is revoked asynchronously
// by the account.deleted handler.
func (s *AccountCommandService) DeleteUser(ctx context.Context, cmd cqrs.DeleteUserCommand) models.Response {
	log := s.log.WithField("userId", cmd.UserID)

	status, account := s.readRepo.ValidateCredentials(ctx, cmd.UserID, cmd.Password)
	if status != models.Success {
		return failed(status)
	}

	account.Alive = false
	if status := s.writeRepo.Update(ctx, account); status != models.Success {
		return failed(status)
	}

	s.readRepo.InvalidateAccountView(ctx, account.UserID)
	s.publish(ctx, log, events.AccountDeleted, events.AccountDeletedEvent{AccountID: account.ID, UserID: account.UserID})

	log.Info("account deleted")
	return models.NewResponse(models.Success, "User deleted successfully", nil)
}

func sessionFailed(status models.StatusCode) models.Response {
	if status == models.Failure {
		return models.NewResponse(models.Failure, "Session expired or replaced", nil)
	}
	return failed(status)
}

// KeepAlive renews the caller's session. The session of a deleted account is
// revoked instead, so it cannot outlive a lost account.deleted event.
func (s *AccountCommandService) KeepAlive(ctx context.Context, cmd cqrs.KeepAliveCommand) models.Response {
	accountID, status := s.sessions.Resolve(ctx, cmd.Token)
	if status != models.Success {
		return sessionFailed(status)
	}

	alive, status := s.readRepo.IsAlive(ctx, accountID)
	if status != models.Success {
		return failed(status)
	}
	if !alive {
		log := s.log.WithField("accountId", accountID)
		if s.sessions.DeleteSessionToken(ctx, cmd.Token) == models.Success {
			log.Info("revoked session of deleted account")
		}
		return failed(models.UserNotExists)
	}

	if status := s.sessions.KeepAliveToken(ctx, cmd.Token); status != models.Success {
		return sessionFailed(status)
	}
	return models.NewResponse(models.Success, "Session renewed", nil)
}

func (s *AccountCommandService) Logout(ctx context.Context, cmd cqrs.LogoutCommand) models.Response {
	if status := s.sessions.DeleteSessionToken(ctx, cmd.Token); status != models.Success {
		return sessionFailed(status)
	}
	return models.NewResponse(models.Success, "User logged out successfully", nil)
}

// HandleAccountEvent is the Redis stream subscriber handler.
// An account.deleted event revokes the account's live session. Returning an
// error leaves the message pending; the subscriber's RetryPending redelivers it.
func (s *AccountCommandService) HandleAccountEvent(ctx context.Context, event events.Event) error {
	if event.Type != events.AccountDeleted {
		s.log.WithField("type", event.Type).Debug("ignoring account event")
		return nil
	}

	var data events.AccountDeletedEvent
	if err := event.Decode(&data); err != nil {
		return err
	}

	log := s.log.WithFields(logrus.Fields{"userId": data.UserID, "accountId": data.AccountID})
	switch s.sessions.DeleteSession(ctx, data.AccountID) {
	case models.Success:
		log.Info("session revoked after account deletion")
	case models.ServerError:
		return fmt.Errorf("failed to revoke session of account %d", data.AccountID)
	default:
		log.Debug("deleted account held no session")
	}
	return nil
}

func (s *AccountCommandService) publish(ctx context.Context, log logrus.FieldLogger, eventType string, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.AccountEventsStream, eventType, data); err != nil {
		log.WithError(err).Warnf("failed to publish %s event", eventType)
	}
}
