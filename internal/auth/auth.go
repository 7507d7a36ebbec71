package auth

import (
	"errors"
	"fmt"
	"time"

	"fulcrum/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords
// alike so a login probe cannot tell the two apart.
var ErrInvalidCredentials = errors.New("invalid credentials")

const tokenTTL = 24 * time.Hour

// Service issues and verifies access tokens and answers study access checks.
type Service struct {
	db     *gorm.DB
	secret []byte
}

func NewService(db *gorm.DB, secret string) *Service {
	return &Service{db: db, secret: []byte(secret)}
}

// Login verifies the password against the stored bcrypt hash and returns a
// signed token plus the authenticated user.
func (s *Service) Login(email, password string) (string, *models.User, error) {
	var user models.User
	if err := s.db.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// HashPassword wraps bcrypt with the default cost for account creation.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) issueToken(userID uint) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   fmt.Sprint(userID),
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses a token and returns the user ID it was issued for.
func (s *Service) VerifyToken(tokenString string) (uint, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return 0, errors.New("token is not valid")
	}

	var userID uint
	if _, err := fmt.Sscan(claims.Subject, &userID); err != nil {
		return 0, fmt.Errorf("malformed token subject: %w", err)
	}
	return userID, nil
}

// CanAccessStudy reports whether the user holds any role on the study.
func (s *Service) CanAccessStudy(userID, studyID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.StudyUserRole{}).
		Where("user_id = ? AND study_id = ?", userID, studyID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check study access: %w", err)
	}
	return count > 0, nil
}

// CanEditStudy reports whether the user may modify the study. Viewers are
// read-only.
func (s *Service) CanEditStudy(userID, studyID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.StudyUserRole{}).
		Where("user_id = ? AND study_id = ? AND role IN ?", userID, studyID,
			[]string{models.RoleOwner, models.RoleEditor}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check study access: %w", err)
	}
	return count > 0, nil
}
