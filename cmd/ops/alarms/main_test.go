package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/monitor"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{
		"--env=prod",
		"--failure-queue=q-failures",
		"--alarm-topic-arn=arn:aws:sns:eu-west-2:1:ops",
		"--secret=/prod/a",
		"--secret=/prod/b",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "sandbox-notify-prod", o.prefix)
	assert.Equal(t, stringList{"/prod/a", "/prod/b"}, o.secrets)

	cfg := o.alarmConfig()
	assert.Equal(t, "q-failures", cfg.FailureQueueName)
	assert.Equal(t, []string{"/prod/a", "/prod/b"}, cfg.SecretNames)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := map[string][]string{
		"missing env":   {"--failure-queue=q"},
		"bad env":       {"--env=qa", "--failure-queue=q"},
		"missing queue": {"--env=dev"},
		"unknown flag":  {"--env=dev", "--failure-queue=q", "--nope"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseFlags(args, io.Discard)
			require.Error(t, err)
		})
	}
}

func TestPrintAlarms(t *testing.T) {
	alarms := monitor.Catalogue(monitor.AlarmConfig{
		Prefix:           "p",
		RunbookBaseURL:   "https://runbooks.test",
		ActionTopicARN:   "arn:topic",
		FailureQueueName: "q",
	})
	var buf bytes.Buffer

	require.NoError(t, printAlarms(&buf, alarms))

	var views []alarmView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &views))
	require.Len(t, views, len(alarms))
	for _, v := range views {
		assert.Contains(t, v.Description, v.RunbookURL)
		assert.Equal(t, []string{"arn:topic"}, v.Actions)
	}
}

func TestPrintRules(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printRules(&buf, "444455556666"))

	var views []struct {
		Name         string `json:"name"`
		EventPattern struct {
			Account    []string `json:"account"`
			DetailType []string `json:"detail-type"`
		} `json:"eventPattern"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &views))
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, []string{"444455556666"}, v.EventPattern.Account)
		assert.NotEmpty(t, v.EventPattern.DetailType)
	}
}
