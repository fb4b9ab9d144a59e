package appregistry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/meshplay/signalserver/internal/v1/logging"
	"go.uber.org/zap"
)

// MockRegistry is a development-only Registry that accepts any token,
// extracting the app id from the unverified JWT payload when present so a
// local frontend can still see a stable app id across reconnects.
type MockRegistry struct{}

// Validate implements Registry without checking a signature.
func (m *MockRegistry) Validate(ctx context.Context, tokenString string) (*Credential, error) {
	appID, org := "", ""

	parts := strings.Split(tokenString, ".")
	if len(parts) == 3 {
		if payload, err := base64.RawURLEncoding.DecodeString(parts[1]); err == nil {
			var claims map[string]interface{}
			if json.Unmarshal(payload, &claims) == nil {
				if sub, ok := claims["sub"].(string); ok {
					appID = sub
				}
				if o, ok := claims["org"].(string); ok {
					org = o
				}
				logging.Info(ctx, "mock registry parsed app token", zap.String("app_id", appID), zap.String("org", org))
			}
		}
	}

	if appID == "" {
		appID = "dev-app-local"
	}
	if org == "" {
		org = "dev-org"
	}

	return &Credential{
		AppID:        appID,
		Organization: org,
		Status:       StatusActive,
	}, nil
}
