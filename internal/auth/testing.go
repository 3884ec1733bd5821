package auth

import "context"

// SetIdentityForTest injects a user ID and email into the context for
// testing purposes.
func SetIdentityForTest(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, emailKey, email)
}
