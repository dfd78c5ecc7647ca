package session

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hstar0124/cpp-boost-chat/shared/models"
	"github.com/hstar0124/cpp-boost-chat/shared/utils"
)

const DefaultTTL = 180 * time.Second

func accountKey(accountID int64) string {
	return "Account:" + strconv.FormatInt(accountID, 10)
}

func sessionKey(token string) string {
	return "Session:" + token
}

// Store links each account to at most one live session token. Both
// directions of the link are always written, renewed and removed together.
type Store struct {
	backend Backend
	ttl     time.Duration
	log     logrus.FieldLogger
}

func NewStore(backend Backend, ttl time.Duration, log logrus.FieldLogger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{backend: backend, ttl: ttl, log: log}
}

// CreateSession installs token as the only session of accountID, revoking
// whatever token the account held before. Failure means a concurrent login
// for the same account won; the caller may retry.
func (s *Store) CreateSession(ctx context.Context, token string, accountID int64) models.StatusCode {
	log := s.log.WithFields(logrus.Fields{"accountId": accountID, "token": utils.MaskToken(token)})
	aKey, sKey := accountKey(accountID), sessionKey(token)
	id := strconv.FormatInt(accountID, 10)

	oldToken, found, err := s.backend.Get(ctx, aKey)
	if err != nil {
		log.WithError(err).Error("failed to look up current session")
		return models.ServerError
	}

	var preconditions []Precondition
	var writes []Write
	if found {
		preconditions = []Precondition{Equals(aKey, oldToken), Absent(sKey)}
		writes = []Write{
			Delete(sessionKey(oldToken)),
			Set(sKey, id, s.ttl),
			Set(aKey, token, s.ttl),
		}
	} else {
		preconditions = []Precondition{Absent(aKey), Absent(sKey)}
		writes = []Write{
			Set(sKey, id, s.ttl),
			Set(aKey, token, s.ttl),
		}
	}

	return s.commit(ctx, log, "create session", preconditions, writes)
}

// KeepAlive restarts the TTL of the account's live session on both keys.
func (s *Store) KeepAlive(ctx context.Context, accountID int64) models.StatusCode {
	return s.keepAlive(ctx, accountID, "")
}

// DeleteSession removes the account's live session.
func (s *Store) DeleteSession(ctx context.Context, accountID int64) models.StatusCode {
	return s.deleteSession(ctx, accountID, "")
}

// KeepAliveToken renews the session only while token is still the account's live one.
func (s *Store) KeepAliveToken(ctx context.Context, token string) models.StatusCode {
	accountID, status := s.Resolve(ctx, token)
	if status != models.Success {
		return status
	}
	return s.keepAlive(ctx, accountID, token)
}

// DeleteSessionToken logs out token only while it is still the account's live one.
func (s *Store) DeleteSessionToken(ctx context.Context, token string) models.StatusCode {
	accountID, status := s.Resolve(ctx, token)
	if status != models.Success {
		return status
	}
	return s.deleteSession(ctx, accountID, token)
}

// Resolve returns the account a live token belongs to.
func (s *Store) Resolve(ctx context.Context, token string) (int64, models.StatusCode) {
	log := s.log.WithField("token", utils.MaskToken(token))

	value, found, err := s.backend.Get(ctx, sessionKey(token))
	if err != nil {
		log.WithError(err).Error("failed to resolve session")
		return 0, models.ServerError
	}
	if !found {
		return 0, models.Failure
	}
	accountID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.WithField("value", value).Warn("session entry holds a non-numeric account id")
		return 0, models.Failure
	}
	return accountID, models.Success
}

func (s *Store) keepAlive(ctx context.Context, accountID int64, expected string) models.StatusCode {
	log := s.log.WithField("accountId", accountID)
	aKey := accountKey(accountID)

	token, status := s.currentToken(ctx, log, aKey, expected)
	if status != models.Success {
		return status
	}

	preconditions := []Precondition{
		Equals(aKey, token),
		Equals(sessionKey(token), strconv.FormatInt(accountID, 10)),
	}
	writes := []Write{
		Expire(aKey, s.ttl),
		Expire(sessionKey(token), s.ttl),
	}
	return s.commit(ctx, log, "keep alive", preconditions, writes)
}

func (s *Store) deleteSession(ctx context.Context, accountID int64, expected string) models.StatusCode {
	log := s.log.WithField("accountId", accountID)
	aKey := accountKey(accountID)

	token, status := s.currentToken(ctx, log, aKey, expected)
	if status != models.Success {
		return status
	}

	preconditions := []Precondition{Equals(aKey, token)}
	writes := []Write{
		Delete(sessionKey(token)),
		Delete(aKey),
	}
	return s.commit(ctx, log, "delete session", preconditions, writes)
}

// currentToken reads the account's live token. When expected is set the live
// token must match it.
func (s *Store) currentToken(ctx context.Context, log logrus.FieldLogger, aKey, expected string) (string, models.StatusCode) {
	token, found, err := s.backend.Get(ctx, aKey)
	if err != nil {
		log.WithError(err).Error("failed to look up current session")
		return "", models.ServerError
	}
	if !found {
		return "", models.Failure
	}
	if expected != "" && token != expected {
		return "", models.Failure
	}
	return token, models.Success
}

func (s *Store) commit(ctx context.Context, log logrus.FieldLogger, op string, preconditions []Precondition, writes []Write) models.StatusCode {
	committed, err := s.backend.AtomicMultiSet(ctx, preconditions, writes)
	if err != nil {
		log.WithError(err).Errorf("%s: backend error", op)
		return models.ServerError
	}
	if !committed {
		log.Infof("%s: lost race, nothing written", op)
		return models.Failure
	}
	return models.Success
}
