package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ SecretProvider = (*SSMProvider)(nil)

type mockSSMParameters struct {
	values map[string]string
	calls  []*ssm.GetParametersInput
	err    error
}

func (m *mockSSMParameters) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.calls = append(m.calls, in)
	if m.err != nil {
		return nil, m.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := m.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProvider_BatchesByTen(t *testing.T) {
	values := map[string]string{}
	var keys []string
	for i := range 23 {
		k := fmt.Sprintf("/prod/sandbox-notify/p%02d", i)
		keys = append(keys, k)
		values[k] = fmt.Sprintf("v%d", i)
	}
	client := &mockSSMParameters{values: values}

	got, err := NewSSMProvider(client).GetParametersBatch(context.Background(), keys)

	require.NoError(t, err)
	assert.Equal(t, values, got)
	require.Len(t, client.calls, 3)
	assert.Len(t, client.calls[0].Names, 10)
	assert.Len(t, client.calls[2].Names, 3)
	for _, c := range client.calls {
		assert.True(t, aws.ToBool(c.WithDecryption))
	}
}

func TestSSMProvider_InvalidParametersOmitted(t *testing.T) {
	client := &mockSSMParameters{values: map[string]string{"/a": "1"}}

	got, err := NewSSMProvider(client).GetParametersBatch(context.Background(), []string{"/a", "/missing"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/a": "1"}, got)
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	client := &mockSSMParameters{}

	got, err := NewSSMProvider(client).GetParametersBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, client.calls)
}

func TestSSMProvider_ClientError(t *testing.T) {
	client := &mockSSMParameters{err: errors.New("AccessDenied")}

	_, err := NewSSMProvider(client).GetParametersBatch(context.Background(), []string{"/a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestSSMProvider_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &mockSSMParameters{}

	_, err := NewSSMProvider(client).GetParametersBatch(ctx, []string{"/a"})

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.calls)
}
