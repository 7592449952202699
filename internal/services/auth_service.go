package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/commonfund/backend/internal/models"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"user@example.com"` // User email
	Password string `json:"password" validate:"required,min=6" example:"password123"`   // User password
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email" example:"user@example.com"` // User email address
	Password  string `json:"password" validate:"required,min=6" example:"password123"`   // User password
	FirstName string `json:"first_name" validate:"required,min=2" example:"John"`        // User first name
	LastName  string `json:"last_name" validate:"required,min=2" example:"Doe"`          // User last name
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
	}
}

// Register handles user registration
// @Summary Register a new user
// @Description Create a member account starting at credit tier 1
// @Tags auth
// @Accept json
// @Produce json
// @Param registration body RegisterRequest true "Registration data"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var exists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, strings.ToLower(req.Email)).Scan(&exists); err != nil {
		SendErrorResponse(w, "Registration failed", http.StatusInternalServerError, nil)
		return
	}
	if exists {
		SendConflictResponse(w, "Email already registered", "EmailTaken", http.StatusConflict)
		return
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed: %v", err)
		SendErrorResponse(w, "Registration failed", http.StatusInternalServerError, nil)
		return
	}

	now := time.Now()
	user := models.User{
		ID:         uuid.New().String(),
		Email:      strings.ToLower(req.Email),
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Role:       models.RoleMember,
		CreditTier: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err = s.db.Exec(`
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, credit_tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		user.ID, user.Email, hash, user.FirstName, user.LastName, user.Role, user.CreditTier, now)
	if err != nil {
		log.Printf("[AUTH] Registration insert failed: %v", err)
		SendErrorResponse(w, "Registration failed", http.StatusInternalServerError, nil)
		return
	}

	token, err := s.issueToken(&user)
	if err != nil {
		SendErrorResponse(w, "Registration failed", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Registered user %s", user.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Login authenticates a user
// @Summary Log in
// @Description Authenticate with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param credentials body LoginRequest true "Login credentials"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var user models.User
	var hash string
	err := s.db.QueryRow(`
		SELECT id, email, password_hash, first_name, last_name, role, credit_tier, created_at, updated_at
		FROM users
		WHERE email = $1 AND archived_at IS NULL`,
		strings.ToLower(req.Email)).Scan(
		&user.ID, &user.Email, &hash, &user.FirstName, &user.LastName, &user.Role,
		&user.CreditTier, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Login failed", http.StatusInternalServerError, nil)
		return
	}

	if !s.verifyPassword(req.Password, hash) {
		log.Printf("[AUTH] Failed login attempt for %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := s.issueToken(&user)
	if err != nil {
		SendErrorResponse(w, "Login failed", http.StatusInternalServerError, nil)
		return
	}

	now := time.Now()
	s.db.Exec(`UPDATE users SET last_login = $1 WHERE id = $2`, now, user.ID)
	user.LastLogin = &now

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Logout revokes the caller's session
// @Summary Log out
// @Description Revoke the authenticated user's session
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	if userID != "" && s.redis != nil {
		s.redis.Del(r.Context(), "session:"+userID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "logged out"})
}

func (s *AuthService) issueToken(user *models.User) (string, error) {
	viper.SetDefault("jwt.expiry_hours", 24)
	expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour

	claims := jwt.MapClaims{
		"user_id": user.ID,
		"role":    user.Role,
		"exp":     time.Now().Add(expiry).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(viper.GetString("jwt.secret_key")))
	if err != nil {
		return "", err
	}

	if s.redis != nil {
		if err := s.redis.Set(context.Background(), "session:"+user.ID, "1", expiry).Err(); err != nil {
			log.Printf("[AUTH] Failed to store session for %s: %v", user.ID, err)
		}
	}

	return signed, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))

	return fmt.Sprintf("%s$%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

func (s *AuthService) verifyPassword(password, encoded string) bool {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(len(expected)))

	return subtle.ConstantTimeCompare(hash, expected) == 1
}
