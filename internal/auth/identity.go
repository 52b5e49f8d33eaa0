package auth

import (
	"context"
	"strings"
)

// Identity is the verified subject attached to a request or connection.
type Identity struct {
	SubjectID string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
}

// Can reports whether the identity's role grants perm.
func (i *Identity) Can(perm Permission) bool {
	return i != nil && HasPermission(i.Role, perm)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// ExtractBearer returns the credential from an "Authorization: Bearer x"
// header value. The scheme is matched case-insensitively.
func ExtractBearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}
