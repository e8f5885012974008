package auth

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
)

func newTestService(t *testing.T, d time.Duration) *TokenService {
	t.Helper()
	key, _, err := OperatorKey("", t.TempDir())
	require.NoError(t, err)
	svc, err := NewTokenService(key, d)
	require.NoError(t, err)
	return svc
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	svc := newTestService(t, time.Hour)

	token, issued, err := svc.Issue("cataloguer")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "v4.local."))
	assert.Equal(t, []string{ScopeDedup}, issued.Scopes, "dedup scope by default")

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "cataloguer", claims.Operator)
	assert.Equal(t, "cataloguer", claims.Subject)
	assert.Equal(t, issued.TokenID, claims.TokenID)
	assert.True(t, claims.HasScope(ScopeDedup))
	assert.False(t, claims.HasScope("admin"))
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.Expiration, time.Minute)
}

func TestTokenService_RejectsBadTokens(t *testing.T) {
	svc := newTestService(t, time.Hour)
	other := newTestService(t, time.Hour)

	foreign, _, err := other.Issue("someone")
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":     "not-a-token",
		"foreign key": foreign,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(token)
			require.Error(t, err)
			assert.Equal(t, domainerrors.CodeUnauthorized, domainerrors.CodeOf(err))
		})
	}
}

func TestTokenService_Expired(t *testing.T) {
	svc := newTestService(t, time.Millisecond)

	token, _, err := svc.Issue("cataloguer")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = svc.Verify(token)
	assert.Equal(t, domainerrors.CodeUnauthorized, domainerrors.CodeOf(err))
}

func TestTokenService_Validation(t *testing.T) {
	_, err := NewTokenService(make([]byte, 16), time.Hour)
	assert.Error(t, err)
	_, err = NewTokenService(make([]byte, keyLength), 0)
	assert.Error(t, err)

	svc := newTestService(t, time.Hour)
	_, _, err = svc.Issue("  ")
	assert.Equal(t, domainerrors.CodeValidation, domainerrors.CodeOf(err))
}

func TestOperatorKey_GeneratedOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	key, source, err := OperatorKey("", dir)
	require.NoError(t, err)
	assert.Len(t, key, keyLength)
	assert.Equal(t, KeyFromGenerated, source)

	again, source, err := OperatorKey("", dir)
	require.NoError(t, err)
	assert.Equal(t, key, again, "key is persisted")
	assert.Equal(t, KeyFromFile, source)

	info, err := os.Stat(filepath.Join(dir, KeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOperatorKey_ConfiguredWins(t *testing.T) {
	dir := t.TempDir()
	configured := strings.Repeat("ab", keyLength)

	key, source, err := OperatorKey(" "+configured+"\n", dir)
	require.NoError(t, err)
	assert.Equal(t, KeyFromConfig, source)
	assert.Equal(t, byte(0xab), key[0])

	_, err = os.Stat(filepath.Join(dir, KeyFile))
	assert.ErrorIs(t, err, os.ErrNotExist, "configured key is not written")

	_, _, err = OperatorKey("abcd", dir)
	assert.Error(t, err)
	_, _, err = OperatorKey(strings.Repeat("zz", keyLength), dir)
	assert.Error(t, err)
}

func TestOperatorKey_BadFileIsNotReplaced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, KeyFile)
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

	_, _, err := OperatorKey("", dir)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))
}

func TestOperatorKey_ConcurrentGeneration(t *testing.T) {
	dir := t.TempDir()

	const n = 8
	keys := make([][]byte, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, _, err := OperatorKey("", dir)
			assert.NoError(t, err)
			keys[i] = key
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, keys[0], keys[i])
	}
}
