package envvar

import (
	"fmt"
	"os"
)

const (
	SOUNDCLOUD_CLIENT_ID     = "SOUNDCLOUD_CLIENT_ID"
	SOUNDCLOUD_CLIENT_SECRET = "SOUNDCLOUD_CLIENT_SECRET"
	DEMUCS_BIN_PATH          = "DEMUCS_BIN_PATH"
	WORKING_DIR_PATH         = "WORKING_DIR_PATH"
	ALLOWED_FE_ORIGINS       = "ALLOWED_FE_ORIGINS"
)

func MustGet(key string) string {
	val, isSet := os.LookupEnv(key)
	if !isSet {
		panic(fmt.Sprintf("No env variable found for key %s", key))
	}

	if val == "" {
		panic(fmt.Sprintf("Env variable is empty for key %s", key))
	}

	return val
}

// GetOrDefault is for values that have a sensible fallback,
// unlike MustGet which is for values the app can't run without.
func GetOrDefault(key string, fallback string) string {
	val, isSet := os.LookupEnv(key)
	if !isSet || val == "" {
		return fallback
	}

	return val
}
