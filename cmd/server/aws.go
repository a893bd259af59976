package main

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/settings"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/webhookauth"
)

// awsClients holds the service clients this process needs. Clients are
// only built for features that are configured.
type awsClients struct {
	ssm *ssm.Client
	s3  *s3.Client
	kms *kms.Client
}

func newAWSClients(awsCfg aws.Config, conf cfg.App) awsClients {
	var c awsClients
	if settings.IsRemote(conf.SettingsSource) {
		c.ssm = ssm.NewFromConfig(awsCfg)
		c.s3 = s3.NewFromConfig(awsCfg)
	}
	if conf.WebhookKMSKeyARN != "" {
		c.kms = kms.NewFromConfig(awsCfg)
	}
	return c
}

// settings returns the clients in the form settings.NewSource expects,
// leaving interface fields nil rather than typed-nil.
func (c awsClients) settings() settings.Clients {
	var out settings.Clients
	if c.ssm != nil {
		out.SSM = c.ssm
	}
	if c.s3 != nil {
		out.S3 = c.s3
	}
	return out
}

// newVerifier returns the configured webhook verifier, or nil when
// authentication is disabled.
func newVerifier(conf cfg.App, c awsClients) webhookauth.Verifier {
	switch {
	case conf.WebhookKMSKeyARN != "":
		return webhookauth.NewKMSVerifier(c.kms, conf.WebhookKMSKeyARN)
	case conf.WebhookSecret != "":
		return webhookauth.NewHMACVerifier(conf.WebhookSecret)
	}
	return nil
}

func webhookAuthMode(conf cfg.App) string {
	switch {
	case conf.WebhookKMSKeyARN != "":
		return "kms"
	case conf.WebhookSecret != "":
		return "hmac"
	}
	return "none"
}
