package external

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/types"
)

type mockSESAPI struct {
	sendInput *sesv2.SendEmailInput
	sendErr   error
	template  *sestypes.EmailTemplateContent
	getErr    error
}

func (m *mockSESAPI) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.sendInput = in
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func (m *mockSESAPI) GetEmailTemplate(_ context.Context, in *sesv2.GetEmailTemplateInput, _ ...func(*sesv2.Options)) (*sesv2.GetEmailTemplateOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &sesv2.GetEmailTemplateOutput{TemplateName: in.TemplateName, TemplateContent: m.template}, nil
}

func TestSESSend_Success(t *testing.T) {
	api := &mockSESAPI{}
	client := NewSESTemplateClientWithAPI(api, SESClientConfig{FromAddress: "noreply@example.gov.uk", ConfigSetName: "notify"})

	id, err := client.Send(context.Background(), types.TemplateEmail{
		TemplateID:      "LeaseApproved",
		Recipient:       "user@example.com",
		Personalisation: map[string]string{"userName": "Ada"},
		Reference:       "evt:1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-msg-1", id)

	in := api.sendInput
	require.NotNil(t, in)
	assert.Equal(t, "noreply@example.gov.uk", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"user@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "notify", aws.ToString(in.ConfigurationSetName))
	assert.Equal(t, "LeaseApproved", aws.ToString(in.Content.Template.TemplateName))

	var data map[string]string
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.Content.Template.TemplateData)), &data))
	assert.Equal(t, "Ada", data["userName"])

	require.Len(t, in.EmailTags, 1)
	assert.Equal(t, "evt_1", aws.ToString(in.EmailTags[0].Value))
}

func TestSESSend_NoReferenceNoTags(t *testing.T) {
	api := &mockSESAPI{}
	_, err := NewSESTemplateClientWithAPI(api, SESClientConfig{}).Send(context.Background(), types.TemplateEmail{TemplateID: "t"})
	require.NoError(t, err)
	assert.Empty(t, api.sendInput.EmailTags)
	assert.Nil(t, api.sendInput.ConfigurationSetName)
}

func TestSESSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"rejected", &sestypes.MessageRejected{Message: aws.String("bad")}, types.ErrCodeEmailRejected},
		{"bad request", &sestypes.BadRequestException{Message: aws.String("bad")}, types.ErrCodeEmailRejected},
		{"throttled", &sestypes.TooManyRequestsException{Message: aws.String("slow")}, types.ErrCodeUpstreamRateLimited},
		{"paused", &sestypes.SendingPausedException{Message: aws.String("paused")}, types.ErrCodeUpstreamUnavailable},
		{"other", errors.New("network"), types.ErrCodeUpstreamEmailProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSESTemplateClientWithAPI(&mockSESAPI{sendErr: tt.err}, SESClientConfig{}).
				Send(context.Background(), types.TemplateEmail{TemplateID: "t"})
			require.Error(t, err)
			assert.Equal(t, tt.want, types.CodeOf(err))
		})
	}
}

func TestSESGetTemplateSchema(t *testing.T) {
	api := &mockSESAPI{template: &sestypes.EmailTemplateContent{
		Subject: aws.String("Your sandbox {{accountId}} is ready"),
		Text:    aws.String("Hello {{userName}}, it expires {{ expiryDate }}."),
		Html:    aws.String("<p>Hello {{{userName}}}</p>"),
	}}
	client := NewSESTemplateClientWithAPI(api, SESClientConfig{})

	schema, err := client.GetTemplateSchema(context.Background(), "LeaseApproved")
	require.NoError(t, err)
	assert.Equal(t, []string{"accountId", "expiryDate", "userName"}, schema.Fields)
	assert.Positive(t, schema.Version)

	again, err := client.GetTemplateSchema(context.Background(), "LeaseApproved")
	require.NoError(t, err)
	assert.Equal(t, schema.Version, again.Version)

	api.template.Text = aws.String("Hi {{userName}}")
	changed, err := client.GetTemplateSchema(context.Background(), "LeaseApproved")
	require.NoError(t, err)
	assert.NotEqual(t, schema.Version, changed.Version)
}

func TestSESGetTemplateSchema_NotFound(t *testing.T) {
	api := &mockSESAPI{getErr: &sestypes.NotFoundException{Message: aws.String("missing")}}
	_, err := NewSESTemplateClientWithAPI(api, SESClientConfig{}).GetTemplateSchema(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeContractTemplateFetch, types.CodeOf(err))
}
