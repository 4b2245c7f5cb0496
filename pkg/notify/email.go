package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/mitchellh/mapstructure"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/rendering"
)

const charset = "UTF-8"

// EmailConfig is the notifications.email block of a target.
type EmailConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	Sender     string          `mapstructure:"sender"`
	To         []string        `mapstructure:"to"`
	Subject    string          `mapstructure:"subject"`
	Body       string          `mapstructure:"body"`
	Connection EmailConnection `mapstructure:"connection"`
}

// EmailConnection holds the SES credentials.
type EmailConnection struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"aws_access_key_id"`
	SecretAccessKey string `mapstructure:"aws_secret_access_key"`
}

// DecodeEmailConfig reads an email block from the secrets tree.
func DecodeEmailConfig(raw map[string]any) (EmailConfig, error) {
	var cfg EmailConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: email notification: %w", api.ErrUnsupportedValueType, err)
	}
	return cfg, nil
}

// Validate checks that every field needed to send is set.
func (c EmailConfig) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: email notification: %s is required", api.ErrConfigurationValidation, field)
	}
	switch {
	case c.Sender == "":
		return missing("sender")
	case len(c.To) == 0:
		return missing("to")
	case c.Subject == "":
		return missing("subject")
	case c.Body == "":
		return missing("body")
	case c.Connection.Region == "":
		return missing("connection.region")
	case c.Connection.AccessKeyID == "":
		return missing("connection.aws_access_key_id")
	case c.Connection.SecretAccessKey == "":
		return missing("connection.aws_secret_access_key")
	}
	return nil
}

// SendEmailAPI is the part of the SES v2 client the notifier uses.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailNotifier sends the run summary through Amazon SES.
type EmailNotifier struct {
	cfg      EmailConfig
	client   SendEmailAPI
	renderer *rendering.Renderer
}

// NewEmailNotifier builds an SES client from cfg's connection block.
func NewEmailNotifier(ctx context.Context, cfg EmailConfig) (*EmailNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Connection.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Connection.AccessKeyID, cfg.Connection.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewEmailNotifierWithClient(cfg, sesv2.NewFromConfig(awsCfg)), nil
}

// NewEmailNotifierWithClient uses client instead of building one.
func NewEmailNotifierWithClient(cfg EmailConfig, client SendEmailAPI) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, client: client, renderer: rendering.NewRenderer()}
}

// Notify renders the subject and body against the summary and sends them.
// The HTML part is the escaped plain body in a <pre> block.
func (n *EmailNotifier) Notify(ctx context.Context, summary RunSummary) error {
	data := summary.Context()

	subject, err := n.renderer.Render("email.subject", n.cfg.Subject, data)
	if err != nil {
		return fmt.Errorf("rendering email subject: %w", err)
	}
	body, err := n.renderer.Render("email.body", n.cfg.Body, data)
	if err != nil {
		return fmt.Errorf("rendering email body: %w", err)
	}
	slog.Debug("email rendered", "subject", subject, "body", body)

	htmlBody := "<html><head></head><body><pre>" + html.EscapeString(body) + "</pre></body></html>"

	slog.Info("sending email", "to", n.cfg.To)
	out, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.cfg.Sender),
		Destination:      &types.Destination{ToAddresses: n.cfg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String(charset)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String(charset)},
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String(charset)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	slog.Info("email sent", "message_id", aws.ToString(out.MessageId))
	return nil
}
