package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	m := NewJWTManager("test-secret", 1, 7)

	tokenString, err := m.GenerateToken(42, "alice", "USER")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "USER", claims.Role)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	tokenString, err := NewJWTManager("secret-a", 1, 7).GenerateToken(1, "u", "USER")
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b", 1, 7).VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestVerifyTokenGarbage(t *testing.T) {
	_, err := NewJWTManager("s", 1, 7).VerifyToken("not-a-jwt")
	assert.Error(t, err)
}

func TestGenerateRandomString(t *testing.T) {
	a := GenerateRandomString(8)
	b := GenerateRandomString(8)
	assert.Len(t, a, 16) // hex 编码后长度翻倍
	assert.NotEqual(t, a, b)
}
