package notify

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/resilience"
)

// ChannelSES identifies the SES email transport.
const ChannelSES = "ses"

// sesAPI is the subset of the SES v2 client used for sending.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESDispatcher emails alerts through Amazon SES.
type SESDispatcher struct {
	client sesAPI
	sender string
}

// NewSESDispatcher creates a dispatcher sending from sender.
func NewSESDispatcher(client sesAPI, sender string) *SESDispatcher {
	return &SESDispatcher{client: client, sender: sender}
}

// Recipient returns the farmer's email address.
func (d *SESDispatcher) Recipient(farm model.Farm) (string, error) {
	addr := strings.TrimSpace(farm.Contact.Email)
	if addr == "" || !strings.Contains(addr, "@") {
		return "", resilience.Permanent(ErrNoRecipient)
	}
	return addr, nil
}

// Send submits one email. SES's message ID becomes the delivery ID.
func (d *SESDispatcher) Send(ctx context.Context, msg Message) (*Ack, error) {
	out, err := d.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(d.sender),
		Destination:      &types.Destination{ToAddresses: []string{msg.Recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("farm_id"), Value: aws.String(tagValue(msg.FarmID))},
			{Name: aws.String("condition"), Value: aws.String(tagValue(msg.ConditionKey))},
			{Name: aws.String("severity"), Value: aws.String(msg.Severity.String())},
		},
	})
	if err != nil {
		return nil, classifySES(err)
	}
	return &Ack{DeliveryID: aws.ToString(out.MessageId), Channel: ChannelSES}, nil
}

// Close is a no-op; the SES client holds no connections of its own.
func (d *SESDispatcher) Close() error { return nil }

var tagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// tagValue restricts s to the characters SES allows in message tags.
func tagValue(s string) string {
	s = tagUnsafe.ReplaceAllString(s, "_")
	if s == "" {
		return "none"
	}
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

func classifySES(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transient(ChannelSES, "", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "TooManyRequestsException", "LimitExceededException", "Throttling", "ThrottlingException",
			"ServiceUnavailable", "InternalFailure":
			return transient(ChannelSES, code, err)
		case "MessageRejected", "MailFromDomainNotVerifiedException", "AccountSuspendedException",
			"SendingPausedException", "BadRequestException", "NotFoundException", "AccessDeniedException":
			return permanent(ChannelSES, code, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return transient(ChannelSES, code, err)
		}
		return permanent(ChannelSES, code, err)
	}
	// No API error means the request never got a response.
	return transient(ChannelSES, "", err)
}
