package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/fairlance/backend/internal/auth"
	"github.com/fairlance/backend/internal/config"
	"github.com/fairlance/backend/internal/models"
	"github.com/fairlance/backend/internal/rail"
	"github.com/fairlance/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const minPasswordLength = 8

type UserService struct {
	userRepo  *repositories.UserRepo
	auditRepo *repositories.AuditRepo
	cfg       *config.Config
	log       *zap.Logger
}

func NewUserService(userRepo *repositories.UserRepo, auditRepo *repositories.AuditRepo, cfg *config.Config, log *zap.Logger) *UserService {
	return &UserService{userRepo: userRepo, auditRepo: auditRepo, cfg: cfg, log: log}
}

func (s *UserService) Register(ctx context.Context, email, password, displayName string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", fmt.Errorf("invalid email address")
	}
	if len(password) < minPasswordLength {
		return nil, "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, "", fmt.Errorf("display name required")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user, err := s.userRepo.Create(ctx, email, hash, displayName)
	if err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, user.ID, s.cfg.JWTExpiration)
	if err != nil {
		return nil, "", err
	}

	entityID := user.ID.String()
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &user.ID,
		ActorType:   "user",
		Action:      "user_registered",
		EntityType:  "user",
		EntityID:    &entityID,
	})
	return user, token, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		// Same failure either way so the endpoint does not leak which
		// emails exist.
		return nil, "", fmt.Errorf("invalid credentials")
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, "", fmt.Errorf("invalid credentials")
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, user.ID, s.cfg.JWTExpiration)
	if err != nil {
		return nil, "", err
	}
	_ = s.userRepo.UpdateLastActive(ctx, user.ID)
	return user, token, nil
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// LinkWallet records the user's payout address. When proof is non-nil the
// wallet must demonstrate ownership via TON Connect ton_proof.
func (s *UserService) LinkWallet(ctx context.Context, userID uuid.UUID, walletAddress string, proof *rail.ProofData) error {
	walletAddress = strings.TrimSpace(walletAddress)
	if walletAddress == "" {
		return fmt.Errorf("wallet address required")
	}

	if proof != nil {
		workchain, addrHash, err := rail.ParseRawAddress(proof.Address)
		if err != nil {
			return fmt.Errorf("invalid proof address: %w", err)
		}
		if err := rail.VerifyProof(proof.PublicKey, addrHash, workchain, proof.Proof, s.cfg.WalletProofDomains); err != nil {
			return fmt.Errorf("wallet proof rejected: %w", err)
		}
	}

	if err := s.userRepo.UpdateWallet(ctx, userID, walletAddress); err != nil {
		return err
	}

	entityID := userID.String()
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "wallet_linked",
		EntityType:  "user",
		EntityID:    &entityID,
		Meta:        map[string]any{"wallet": walletAddress, "proven": proof != nil},
	})
	return nil
}
