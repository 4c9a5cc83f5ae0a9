package backend

import (
	"fmt"

	"finsync/internal/config"
	"finsync/internal/remote/firestore"
	"finsync/internal/retry"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		Retry: retry.Policy{
			MaxAttempts:  appConfig.RetryMaxAttempts,
			InitialDelay: appConfig.RetryInitialDelay,
		},

		LedgerBaseURL: appConfig.LedgerBaseURL,
		LedgerTimeout: appConfig.LedgerTimeout,

		Firestore: firestore.Config{
			ProjectID:       appConfig.FirestoreProjectID,
			UserID:          appConfig.FirestoreUserID,
			CredentialsJSON: appConfig.FirestoreCredentialsJSON,
			CredentialsFile: appConfig.FirestoreCredentialsFile,
		},

		MemoryLive: appConfig.MemoryLive,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case RestBackend:
		if c.LedgerBaseURL == "" {
			return fmt.Errorf("ledger base URL is required for rest backend")
		}
		if c.Retry.MaxAttempts < 1 {
			return fmt.Errorf("retry policy needs at least one attempt for rest backend")
		}

	case FirestoreBackend:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("Firestore project ID is required for firestore backend")
		}
		if c.Firestore.UserID == "" {
			return fmt.Errorf("Firestore user ID is required for firestore backend")
		}

	case MemoryBackend:
		// Nothing to check; a zero retry policy makes one attempt.
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{RestBackend, FirestoreBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
