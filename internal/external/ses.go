package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"regexp"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"sandboxnotify/internal/types"
)

// SESAPI defines the subset of the SES v2 client used by SESTemplateClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetEmailTemplate(ctx context.Context, params *sesv2.GetEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailTemplateOutput, error)
}

// SESClientConfig holds the configuration for SESTemplateClient.
type SESClientConfig struct {
	FromAddress string
	// ConfigSetName is optional.
	ConfigSetName string
}

// SESTemplateClient sends stored SES templates. The SDK retries on its own,
// so no BaseClient is involved.
type SESTemplateClient struct {
	api           SESAPI
	from          string
	configSetName string
}

// NewSESTemplateClient creates a client from an AWS config.
func NewSESTemplateClient(awsCfg aws.Config, cfg SESClientConfig) *SESTemplateClient {
	return NewSESTemplateClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESTemplateClientWithAPI creates a client around an existing SESAPI.
func NewSESTemplateClientWithAPI(api SESAPI, cfg SESClientConfig) *SESTemplateClient {
	return &SESTemplateClient{
		api:           api,
		from:          cfg.FromAddress,
		configSetName: cfg.ConfigSetName,
	}
}

// Send sends the named stored template with the personalisation map as its
// template data.
//
// Error mapping:
//   - MessageRejected, BadRequest -> ErrCodeEmailRejected
//   - TooManyRequestsException -> ErrCodeUpstreamRateLimited
//   - SendingPausedException -> ErrCodeUpstreamUnavailable
//   - Other -> ErrCodeUpstreamEmailProvider
func (s *SESTemplateClient) Send(ctx context.Context, email types.TemplateEmail) (string, error) {
	data, err := json.Marshal(email.Personalisation)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal template data", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{email.Recipient},
		},
		Content: &sestypes.EmailContent{
			Template: &sestypes.Template{
				TemplateName: aws.String(email.TemplateID),
				TemplateData: aws.String(string(data)),
			},
		},
	}
	if s.configSetName != "" {
		input.ConfigurationSetName = aws.String(s.configSetName)
	}
	if email.Reference != "" {
		input.EmailTags = []sestypes.MessageTag{{
			Name:  aws.String("Reference"),
			Value: aws.String(sesTagValue.ReplaceAllString(email.Reference, "_")),
		}}
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

var (
	sesPlaceholder = regexp.MustCompile(`\{\{\{?\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}?\}\}`)
	sesTagValue    = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// GetTemplateSchema reads the stored template and collects the {{field}}
// placeholders of its subject and bodies. SES templates carry no version
// number, so Version is a checksum of the template content.
func (s *SESTemplateClient) GetTemplateSchema(ctx context.Context, templateID string) (*types.TemplateSchema, error) {
	out, err := s.api.GetEmailTemplate(ctx, &sesv2.GetEmailTemplateInput{
		TemplateName: aws.String(templateID),
	})
	if err != nil {
		var notFound *sestypes.NotFoundException
		if errors.As(err, &notFound) {
			return nil, types.NewAppError(types.ErrCodeContractTemplateFetch,
				fmt.Sprintf("SES template %q not found", templateID), err)
		}
		return nil, mapSESError(err)
	}

	var content string
	if c := out.TemplateContent; c != nil {
		content = aws.ToString(c.Subject) + "\x00" + aws.ToString(c.Text) + "\x00" + aws.ToString(c.Html)
	}

	seen := make(map[string]struct{})
	for _, m := range sesPlaceholder.FindAllStringSubmatch(content, -1) {
		seen[m[1]] = struct{}{}
	}
	fields := make([]string, 0, len(seen))
	for name := range seen {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	return &types.TemplateSchema{
		TemplateID: templateID,
		Version:    int(crc32.ChecksumIEEE([]byte(content)) & 0x7fffffff),
		Fields:     fields,
	}, nil
}

func mapSESError(err error) error {
	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return types.NewAppError(types.ErrCodeEmailRejected, fmt.Sprintf("SES rejected message: %v", err), err)
	}

	var badRequest *sestypes.BadRequestException
	if errors.As(err, &badRequest) {
		return types.NewAppError(types.ErrCodeEmailRejected, fmt.Sprintf("SES bad request: %v", err), err)
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, fmt.Sprintf("SES rate limit exceeded: %v", err), err)
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("SES account sending paused: %v", err), err)
	}

	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SES error: %v", err), err)
}

var (
	_ EmailSender          = (*SESTemplateClient)(nil)
	_ TemplateSchemaSource = (*SESTemplateClient)(nil)
)
