package service

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mkarlsson/sharesync/internal/changelog"
	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/mkarlsson/sharesync/internal/repository"
)

// Service defines all the business logic operations
type Service interface {
	// Authentication
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)

	// Group operations
	CreateGroup(ctx context.Context, userID string, req models.CreateGroupRequest) (*models.GroupResponse, error)
	GetUserGroups(ctx context.Context, userID string) (*models.GroupListResponse, error)
	GetGroup(ctx context.Context, userID, groupID string) (*models.GroupResponse, error)

	// Visibility gates
	ToggleGroupSharing(ctx context.Context, userID, groupID string) (*models.ToggleResponse, error)
	ToggleSharePreference(ctx context.Context, userID, groupID string) (*models.ToggleResponse, error)

	// Membership lifecycle
	LeaveGroup(ctx context.Context, userID, groupID string) error
	TransferOwnership(ctx context.Context, userID, groupID string, req models.TransferOwnershipRequest) error
	DeleteGroup(ctx context.Context, userID, groupID string) error

	// Invitations
	CreateInvitation(ctx context.Context, userID, groupID string, req models.CreateInvitationRequest) (*models.InvitationResponse, error)
	PreviewInvitation(ctx context.Context, code string) (*models.JoinPreviewResponse, error)
	AcceptInvitation(ctx context.Context, userID, code string, req models.AcceptInvitationRequest) (*models.GroupResponse, error)
	DeclineInvitation(ctx context.Context, userID, code string) error

	// Records (owner-scoped boundary feeding the changelog)
	CreateRecord(ctx context.Context, userID string, req models.CreateRecordRequest) (*models.RecordResponse, error)
	UpdateRecord(ctx context.Context, userID, recordID string, req models.UpdateRecordRequest) (*models.RecordResponse, error)
	DeleteRecord(ctx context.Context, userID, recordID string) error

	// Sync feed and recovery
	GetChanges(ctx context.Context, userID, groupID string, since time.Time, sinceID string, limit int) (*models.ChangesResponse, error)
	GetGroupRecords(ctx context.Context, userID, groupID string) (*models.RecordListResponse, error)

	// Statistics (never gated)
	GetStats(ctx context.Context, userID, groupID, period string) (*models.StatsResponse, error)
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	writer        *changelog.Writer
	jwtSecret     []byte
	tokenDuration time.Duration
	// loc is the timezone for the daily toggle-limit reset boundary.
	loc     *time.Location
	baseURL string
	now     func() time.Time
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, writer *changelog.Writer, jwtSecret string, loc *time.Location, baseURL string) *DefaultService {
	if loc == nil {
		loc = time.UTC
	}
	return &DefaultService{
		repo:          repo,
		writer:        writer,
		jwtSecret:     []byte(jwtSecret),
		tokenDuration: 24 * time.Hour, // 24 hours token validity
		loc:           loc,
		baseURL:       baseURL,
		now:           time.Now,
	}
}

// Helper methods
func (s *DefaultService) generateJWT(user *models.User) (string, error) {
	expirationTime := time.Now().Add(s.tokenDuration)

	claims := jwt.MapClaims{
		"sub": user.ID, // subject
		"exp": expirationTime.Unix(),
		"iat": time.Now().Unix(), // issued at
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
