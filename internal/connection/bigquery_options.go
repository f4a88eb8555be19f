package connection

import (
	"google.golang.org/api/option"
)

// bigqueryClientOptions builds the client options for a BigQueryConfig,
// using the resolved service-account credential JSON when present and
// falling back to application-default credentials otherwise.
func bigqueryClientOptions(cfg BigQueryConfig) []option.ClientOption {
	if len(cfg.CredentialJSON) == 0 {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON(cfg.CredentialJSON)}
}
