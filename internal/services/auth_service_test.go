package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func TestAuthService_Register(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db, nil)

	t.Run("successful registration", func(t *testing.T) {
		req := RegisterRequest{
			Email:     "test@example.com",
			Password:  "password123",
			FirstName: "John",
			LastName:  "Doe",
		}

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(req.Email).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectExec("INSERT INTO users").
			WillReturnResult(sqlmock.NewResult(1, 1))

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, req.Email, response.User.Email)
		assert.Equal(t, 1, response.User.CreditTier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		req := RegisterRequest{
			Email:     "taken@example.com",
			Password:  "password123",
			FirstName: "Jane",
			LastName:  "Doe",
		}

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(req.Email).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "not-an-email",
			Password: "123", // too short
		}

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_PasswordHashing(t *testing.T) {
	setupAuthConfig()
	service := NewAuthService(nil, nil)

	t.Run("hash and verify roundtrip", func(t *testing.T) {
		hash, err := service.hashPassword("correct horse battery staple")
		assert.NoError(t, err)
		assert.NotEmpty(t, hash)
		assert.NotContains(t, hash, "correct horse")

		assert.True(t, service.verifyPassword("correct horse battery staple", hash))
		assert.False(t, service.verifyPassword("wrong password", hash))
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		h1, err := service.hashPassword("password123")
		assert.NoError(t, err)
		h2, err := service.hashPassword("password123")
		assert.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("malformed hash is rejected", func(t *testing.T) {
		assert.False(t, service.verifyPassword("password123", "not-a-valid-hash"))
	})
}
