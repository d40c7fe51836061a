package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
)

// ManagementScope is the OAuth scope of the Azure Resource Manager API
const ManagementScope = "https://management.azure.com/.default"

// TokenSource supplies bearer tokens for provider calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// NewCredential uses the configured service principal when it is complete,
// otherwise the default credential chain (environment, workload identity,
// managed identity, Azure CLI)
func NewCredential(cfg config.AzureConfig) (azcore.TokenCredential, error) {
	if cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create client secret credential: %w", err)
		}
		return cred, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}

// CredentialTokenSource adapts an azcore credential. The credential caches
// and refreshes tokens itself.
type CredentialTokenSource struct {
	cred  azcore.TokenCredential
	scope string
}

// NewCredentialTokenSource returns a TokenSource for the management scope
func NewCredentialTokenSource(cred azcore.TokenCredential) *CredentialTokenSource {
	return &CredentialTokenSource{cred: cred, scope: ManagementScope}
}

// Token returns a current bearer token
func (s *CredentialTokenSource) Token(ctx context.Context) (string, error) {
	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{s.scope}})
	if err != nil {
		return "", fmt.Errorf("failed to acquire token: %w", err)
	}
	return tok.Token, nil
}

// StaticToken is a fixed bearer token
type StaticToken string

// Token returns the fixed token
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
