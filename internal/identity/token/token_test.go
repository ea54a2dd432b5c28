package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"beacon/internal/identity/models"
)

type ManagerSuite struct {
	suite.Suite
	manager *Manager
}

func (s *ManagerSuite) SetupTest() {
	s.manager = NewManager("test-signing-key", 15*time.Minute)
}

func (s *ManagerSuite) TestMintAndValidate() {
	user := &models.User{
		ID:              uuid.New(),
		Role:            models.RoleFree,
		PrimaryEmail:    "dana@example.com",
		LinkedProviders: []models.Provider{models.ProviderEmail},
	}
	sessionID := uuid.New()

	tokens, err := s.manager.Mint(user, sessionID, time.Now())
	s.Require().NoError(err)
	s.NotEmpty(tokens.AccessToken)
	s.NotEmpty(tokens.IDToken)
	s.Equal(int64(900), tokens.ExpiresIn)

	claims, err := s.manager.Validate(tokens.AccessToken)
	s.Require().NoError(err)
	s.Equal(user.ID.String(), claims.Subject)
	s.Equal(sessionID.String(), claims.SessionID)
	s.Equal(models.RoleFree, claims.Role)
}

func (s *ManagerSuite) TestExpiredTokenRejected() {
	user := &models.User{ID: uuid.New(), Role: models.RoleAnonymous}

	tokens, err := s.manager.Mint(user, uuid.New(), time.Now().Add(-time.Hour))
	s.Require().NoError(err)

	_, err = s.manager.Validate(tokens.AccessToken)
	s.Error(err)
}

func (s *ManagerSuite) TestWrongKeyRejected() {
	user := &models.User{ID: uuid.New(), Role: models.RoleAnonymous}

	tokens, err := s.manager.Mint(user, uuid.New(), time.Now())
	s.Require().NoError(err)

	other := NewManager("a-different-key", 15*time.Minute)
	_, err = other.Validate(tokens.AccessToken)
	s.Error(err)
}

func (s *ManagerSuite) TestGarbageRejected() {
	_, err := s.manager.Validate("not.a.jwt")
	s.Error(err)

	_, err = s.manager.Validate("")
	s.Error(err)
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}
