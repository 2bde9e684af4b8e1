package auth

import (
	"context"

	"oidcp/pkg/platform/strutil"
)

// ImplicitConsent grants every authenticated user the scope they asked for.
// The permission string records what was granted. Deployments needing a
// consent screen or policy engine replace this collaborator.
type ImplicitConsent struct{}

func NewImplicitConsent() *ImplicitConsent { return &ImplicitConsent{} }

func (ImplicitConsent) Permission(_ context.Context, _, _ string, scope []string) (string, error) {
	return strutil.Join(scope), nil
}
