package email

import "context"

// SecretFunc returns the stored secret for an account id.
type SecretFunc func(ctx context.Context, accountID string) (string, error)
