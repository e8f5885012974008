package providers

import (
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/bibmerge/bibmerge/internal/auth"
	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/logger"
)

// AuthKey wraps the token key bytes.
type AuthKey []byte

// ProvideAuthKey resolves the token key from config or the data path.
func ProvideAuthKey(i do.Injector) (AuthKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	key, source, err := auth.OperatorKey(cfg.Auth.KeyHex, cfg.Data.BasePath)
	if err != nil {
		return nil, err
	}
	cfg.Auth.TokenKey = key

	if source == auth.KeyFromGenerated {
		log.Info("Generated token key", "path", filepath.Join(cfg.Data.BasePath, auth.KeyFile))
	}
	log.Debug("Token key loaded", "source", source, "token_duration", cfg.Auth.TokenDuration)

	return AuthKey(key), nil
}

// ProvideTokenService provides the PASETO token service.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	authKey := do.MustInvoke[AuthKey](i)

	return auth.NewTokenService(authKey, cfg.Auth.TokenDuration)
}
