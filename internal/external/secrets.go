package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"sandboxnotify/internal/types"
)

// SSMAPI is the subset of the SSM client used by SSMSecretStore.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSecretStore reads SecureString parameters from Parameter Store.
type SSMSecretStore struct {
	api SSMAPI
}

// NewSSMSecretStore creates a secret store around an SSM client.
func NewSSMSecretStore(api SSMAPI) *SSMSecretStore {
	return &SSMSecretStore{api: api}
}

// GetSecret returns the decrypted value and the parameter's last
// modification time, which is when the secret was last rotated.
func (s *SSMSecretStore) GetSecret(ctx context.Context, name string) (*Secret, error) {
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeAuthSecretUnavailable,
				"secret parameter not found", err, map[string]any{"name": name})
		}
		return nil, fmt.Errorf("ssm GetParameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeAuthSecretUnavailable,
			"secret parameter has no value", nil, map[string]any{"name": name})
	}

	secret := &Secret{
		Name:  name,
		Value: types.SecretString(aws.ToString(out.Parameter.Value)),
	}
	if out.Parameter.LastModifiedDate != nil {
		secret.LastModified = out.Parameter.LastModifiedDate.UTC()
	}
	return secret, nil
}

var _ SecretStore = (*SSMSecretStore)(nil)
