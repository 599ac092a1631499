package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/ecothreads-notify/internal/application/push"
	"github.com/ecothreads-notify/internal/domain"
)

// apnsCollapseIDAttr is the SNS message attribute mapped to the apns-collapse-id header.
const apnsCollapseIDAttr = "AWS.SNS.MOBILE.APNS.COLLAPSE_ID"

// publisher is the subset of *sns.Client the sender uses.
type publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sender publishes mobile pushes to SNS platform endpoints. Device tokens are
// platform endpoint ARNs.
type Sender struct {
	client  publisher
	sandbox bool
}

// NewSender wraps an SNS client. sandbox routes iOS pushes to APNS_SANDBOX.
func NewSender(awsCfg aws.Config, endpointURL string, sandbox bool) *Sender {
	clientOpts := []func(*sns.Options){}
	if endpointURL != "" {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	return &Sender{client: sns.NewFromConfig(awsCfg, clientOpts...), sandbox: sandbox}
}

func (s *Sender) Send(ctx context.Context, target domain.DeviceAddress, msg push.Message) (string, error) {
	if target.Token == "" {
		return "", errors.New("empty push target")
	}
	body, err := buildPayload(msg, s.sandbox)
	if err != nil {
		return "", err
	}
	in := &sns.PublishInput{
		TargetArn:        aws.String(target.Token),
		Message:          aws.String(body),
		MessageStructure: aws.String("json"),
	}
	if msg.Options.CollapseKey != "" && target.Platform == domain.PlatformIOS {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			apnsCollapseIDAttr: {DataType: aws.String("String"), StringValue: aws.String(msg.Options.CollapseKey)},
		}
	}
	out, err := s.client.Publish(ctx, in)
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

type gcmNotification struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	ChannelID   string `json:"android_channel_id,omitempty"`
	Sound       string `json:"sound,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
}

type gcmPayload struct {
	Notification gcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	CollapseKey  string            `json:"collapse_key,omitempty"`
}

type apnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type apnsAps struct {
	Alert    apnsAlert `json:"alert"`
	Sound    string    `json:"sound,omitempty"`
	ThreadID string    `json:"thread-id,omitempty"`
}

// buildPayload renders the per-platform JSON envelope SNS expects when
// MessageStructure is "json": each platform key maps to a JSON-encoded string.
func buildPayload(msg push.Message, sandbox bool) (string, error) {
	gcm, err := json.Marshal(gcmPayload{
		Notification: gcmNotification{
			Title:       msg.Title,
			Body:        msg.Body,
			ChannelID:   msg.Options.ChannelID,
			Sound:       msg.Options.Sound,
			ClickAction: msg.Options.ClickAction,
		},
		Data:        msg.Data,
		Priority:    string(msg.Options.Priority),
		CollapseKey: msg.Options.CollapseKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal gcm payload: %w", err)
	}

	apnsBody := map[string]interface{}{
		"aps": apnsAps{
			Alert:    apnsAlert{Title: msg.Title, Body: msg.Body},
			Sound:    msg.Options.Sound,
			ThreadID: msg.Options.ChannelID,
		},
	}
	for k, v := range msg.Data {
		if k != "aps" {
			apnsBody[k] = v
		}
	}
	apns, err := json.Marshal(apnsBody)
	if err != nil {
		return "", fmt.Errorf("marshal apns payload: %w", err)
	}

	apnsKey := "APNS"
	if sandbox {
		apnsKey = "APNS_SANDBOX"
	}
	envelope, err := json.Marshal(map[string]string{
		"default": msg.Body,
		"GCM":     string(gcm),
		apnsKey:   string(apns),
	})
	if err != nil {
		return "", fmt.Errorf("marshal sns envelope: %w", err)
	}
	return string(envelope), nil
}
