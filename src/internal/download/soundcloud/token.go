package soundcloud

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/musicviz/stem-split-be/src/lib/cerr"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const DefaultTokenURL = "https://secure.soundcloud.com/oauth/token"

// Refresh this long before the token actually expires.
const TokenRefreshBuffer = 300 * time.Second

// TokenCache memoizes the app level bearer token obtained through the
// client credentials flow. It is shared by every concurrent resolver
// call, and the mutex is held across the exchange so concurrent
// refreshes collapse into a single token request.
type TokenCache struct {
	mutex sync.Mutex
	conf  clientcredentials.Config
	token *oauth2.Token
}

func NewTokenCache(clientID string, clientSecret string, tokenURL string) *TokenCache {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	return &TokenCache{
		conf: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
	}
}

func (t *TokenCache) Configured() bool {
	return t.conf.ClientID != "" && t.conf.ClientSecret != ""
}

// GetToken returns the cached token while it's still comfortably within
// its validity window, otherwise performs a fresh exchange.
func (t *TokenCache) GetToken(ctx context.Context) (string, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.token != nil && time.Now().Add(TokenRefreshBuffer).Before(t.token.Expiry) {
		return t.token.AccessToken, nil
	}

	if !t.Configured() {
		return "", cerr.Error("SoundCloud credentials not configured. Set SOUNDCLOUD_CLIENT_ID and SOUNDCLOUD_CLIENT_SECRET")
	}

	log.Info("Exchanging SoundCloud client credentials for a new token")

	token, err := t.conf.Token(ctx)
	if err != nil {
		return "", cerr.Wrap(err).Error("Failed to exchange client credentials for a token")
	}

	if token.AccessToken == "" {
		return "", cerr.Error("SoundCloud token response is missing the access token")
	}

	t.token = token
	return token.AccessToken, nil
}

// Evict clears the cached token so the next call forces a fresh
// exchange. Called when the API rejects the token with a 401 - there
// is no retry loop here, the caller re-invokes.
func (t *TokenCache) Evict() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.token = nil
}
