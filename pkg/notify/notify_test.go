package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/stat"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func emailBlock() map[string]any {
	return map[string]any{
		"enabled": true,
		"sender":  "backup@example.com",
		"to":      []any{"ops@example.com", "dba@example.com"},
		"subject": "[{{ .str_flow_execution_status }}] {{ .flow_name }} on {{ .host_name }}",
		"body":    "took {{ .time_spent }}{{ if .flow_exception }}\nerror: {{ .flow_exception }}{{ end }}\n<done>",
		"connection": map[string]any{
			"region":                "eu-west-1",
			"aws_access_key_id":     "key",
			"aws_secret_access_key": "secret",
		},
	}
}

func summary() RunSummary {
	entry := stat.NewEntry("s3_multipart_upload_with_rotation", "Upload")
	entry.Start = time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	entry.End = entry.Start.Add(90 * time.Second)
	entry.Metrics.Set("Uploaded Objects", 2.0, "items")

	return RunSummary{
		StartedAt:     entry.Start,
		FlowName:      "nightly",
		HostName:      "db01",
		Succeeded:     true,
		Elapsed:       95 * time.Second,
		ActiveRunStat: []*stat.Entry{entry},
	}
}

func TestSummaryContext(t *testing.T) {
	s := summary()
	ctx := s.Context()

	assert.Equal(t, "succeeded", ctx["str_flow_execution_status"])
	assert.Equal(t, true, ctx["flow_execution_succeeded"])
	assert.Equal(t, "1m35.0s", ctx["time_spent"])
	assert.Equal(t, "", ctx["flow_exception"])
	assert.Equal(t, "", ctx["dry_run_stat"])
	assert.Equal(t, "", ctx["dry_run_metrics"])
	assert.Contains(t, ctx["active_run_stat"], "s3_multipart_upload_with_rotation")
	assert.True(t, strings.HasPrefix(ctx["active_run_metrics"].(string), "Metrics for 'Upload (s3_multipart_upload_with_rotation)':\n"))
	assert.Contains(t, ctx["active_run_metrics"], "Uploaded Objects")

	s.Succeeded = false
	s.Err = errors.New("bucket gone")
	ctx = s.Context()
	assert.Equal(t, "failed", ctx["str_flow_execution_status"])
	assert.Equal(t, "bucket gone", ctx["flow_exception"])
}

func TestEmailConfig(t *testing.T) {
	cfg, err := DecodeEmailConfig(emailBlock())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"ops@example.com", "dba@example.com"}, cfg.To)
	assert.Equal(t, "eu-west-1", cfg.Connection.Region)

	tests := []struct {
		name  string
		patch func(map[string]any)
		kind  error
	}{
		{"missing sender", func(m map[string]any) { delete(m, "sender") }, api.ErrConfigurationValidation},
		{"empty recipients", func(m map[string]any) { m["to"] = []any{} }, api.ErrConfigurationValidation},
		{"missing region", func(m map[string]any) { delete(m["connection"].(map[string]any), "region") }, api.ErrConfigurationValidation},
		{"recipients not a list", func(m map[string]any) { m["to"] = 42 }, api.ErrUnsupportedValueType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := emailBlock()
			tt.patch(raw)
			cfg, err := DecodeEmailConfig(raw)
			if err == nil {
				err = cfg.Validate()
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestEmailNotifierSends(t *testing.T) {
	cfg, err := DecodeEmailConfig(emailBlock())
	require.NoError(t, err)
	client := &fakeSES{}

	require.NoError(t, NewEmailNotifierWithClient(cfg, client).Notify(context.Background(), summary()))
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "backup@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"ops@example.com", "dba@example.com"}, in.Destination.ToAddresses)

	msg := in.Content.Simple
	assert.Equal(t, "[succeeded] nightly on db01", aws.ToString(msg.Subject.Data))
	assert.Equal(t, "took 1m35.0s\n<done>", aws.ToString(msg.Body.Text.Data))
	assert.Contains(t, aws.ToString(msg.Body.Html.Data), "<pre>took 1m35.0s\n&lt;done&gt;</pre>")
}

func TestEmailNotifierTemplateError(t *testing.T) {
	raw := emailBlock()
	raw["subject"] = "{{ .no_such_value }}"
	cfg, err := DecodeEmailConfig(raw)
	require.NoError(t, err)
	client := &fakeSES{}

	err = NewEmailNotifierWithClient(cfg, client).Notify(context.Background(), summary())
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrUndefinedVariable))
	assert.Empty(t, client.inputs)
}

func TestDispatcher(t *testing.T) {
	client := &fakeSES{}
	d := &Dispatcher{Email: func(_ context.Context, cfg EmailConfig) (Notifier, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return NewEmailNotifierWithClient(cfg, client), nil
	}}

	disabled := emailBlock()
	disabled["enabled"] = false

	tests := []struct {
		name          string
		notifications map[string]map[string]any
		sendErr       error
		wantSent      int
		wantCalls     int
	}{
		{"enabled email", map[string]map[string]any{"email": emailBlock()}, nil, 1, 1},
		{"disabled email", map[string]map[string]any{"email": disabled}, nil, 0, 0},
		{"unknown type", map[string]map[string]any{"pager": {"enabled": true}}, nil, 0, 0},
		{"send failure is not fatal", map[string]map[string]any{"email": emailBlock()}, errors.New("throttled"), 0, 1},
		{"none configured", nil, nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client.inputs = nil
			client.err = tt.sendErr
			assert.Equal(t, tt.wantSent, d.Send(context.Background(), tt.notifications, summary()))
			assert.Len(t, client.inputs, tt.wantCalls)
		})
	}
}
