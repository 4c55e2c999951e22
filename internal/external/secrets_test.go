package external

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/types"
)

type mockSSM struct {
	input *ssm.GetParameterInput
	out   *ssm.GetParameterOutput
	err   error
}

func (m *mockSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	m.input = in
	return m.out, m.err
}

func TestSSMSecretStore_GetSecret(t *testing.T) {
	rotated := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	api := &mockSSM{out: &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{
		Value:            aws.String("s3cret"),
		LastModifiedDate: aws.Time(rotated),
	}}}

	secret, err := NewSSMSecretStore(api).GetSecret(context.Background(), "/sandbox/isb/jwt")
	require.NoError(t, err)
	assert.True(t, aws.ToBool(api.input.WithDecryption))
	assert.Equal(t, "s3cret", secret.Value.Unmask())
	assert.Equal(t, rotated, secret.LastModified)
	assert.Equal(t, "/sandbox/isb/jwt", secret.Name)
}

func TestSSMSecretStore_NotFound(t *testing.T) {
	api := &mockSSM{err: &ssmtypes.ParameterNotFound{Message: aws.String("nope")}}
	_, err := NewSSMSecretStore(api).GetSecret(context.Background(), "/missing")
	require.Error(t, err)
	assert.True(t, types.IsAuthFailure(err))
}

func TestSSMSecretStore_OtherError(t *testing.T) {
	api := &mockSSM{err: errors.New("throttled")}
	_, err := NewSSMSecretStore(api).GetSecret(context.Background(), "/x")
	require.Error(t, err)
	assert.False(t, types.IsAuthFailure(err))
	assert.Contains(t, err.Error(), "throttled")
}
