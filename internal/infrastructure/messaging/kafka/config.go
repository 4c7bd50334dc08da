// Package kafka carries job items in and results out over Kafka using
// segmentio/kafka-go. ItemSource feeds a stream run from the items topic;
// ResultPublisher writes each finished result to the results topic.
package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/turtacn/stockscan/pkg/errors"
)

// Config is the kafka section of the configuration file.
type Config struct {
	Brokers         []string `mapstructure:"brokers"`
	GroupID         string   `mapstructure:"group_id"`
	ItemsTopic      string   `mapstructure:"items_topic"`
	ResultsTopic    string   `mapstructure:"results_topic"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	// StartOffset is earliest or latest; it applies when the group has no
	// committed offset yet.
	StartOffset string `mapstructure:"start_offset"`

	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`

	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`

	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	TLSCertPath   string `mapstructure:"tls_cert_path"`
}

// Validate checks what the worker needs to connect.
func (c Config) Validate() error {
	switch {
	case len(c.Brokers) == 0:
		return errors.New(errors.ErrCodeValidation, "brokers required")
	case c.GroupID == "":
		return errors.New(errors.ErrCodeValidation, "group_id required")
	case c.ItemsTopic == "":
		return errors.New(errors.ErrCodeValidation, "items_topic required")
	case c.ResultsTopic == "":
		return errors.New(errors.ErrCodeValidation, "results_topic required")
	case c.StartOffset != "" && c.StartOffset != "earliest" && c.StartOffset != "latest":
		return errors.New(errors.ErrCodeValidation, "start_offset must be earliest or latest")
	case c.MaxRetries < 0:
		return errors.New(errors.ErrCodeValidation, "max_retries must be >= 0")
	case c.SASLMechanism != "" && (c.SASLUsername == "" || c.SASLPassword == ""):
		return errors.New(errors.ErrCodeValidation, "sasl credentials required")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.StartOffset == "" {
		c.StartOffset = "earliest"
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.MaxWait == 0 {
		c.MaxWait = 500 * time.Millisecond
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = 30 * time.Second
	}
	return c
}

func saslMechanism(c Config) (sasl.Mechanism, error) {
	switch c.SASLMechanism {
	case "":
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: c.SASLUsername, Password: c.SASLPassword}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
	default:
		return nil, errors.Newf(errors.ErrCodeValidation, "unsupported sasl mechanism %q", c.SASLMechanism)
	}
}

func tlsConfig(c Config) (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.TLSCertPath != "" {
		pem, err := os.ReadFile(c.TLSCertPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "read kafka CA certificate").WithDetail(c.TLSCertPath)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "no certificates in kafka CA file").WithDetail(c.TLSCertPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func newDialer(c Config) (*kafka.Dialer, error) {
	mech, err := saslMechanism(c)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := tlsConfig(c)
	if err != nil {
		return nil, err
	}
	return &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true, SASLMechanism: mech, TLS: tlsCfg}, nil
}

// newWriter builds a writer without a fixed topic; messages name their own.
// Retries happen in ResultPublisher, so the writer makes a single attempt.
func newWriter(c Config) (*kafka.Writer, error) {
	mech, err := saslMechanism(c)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := tlsConfig(c)
	if err != nil {
		return nil, err
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  1,
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: c.WriteTimeout,
		Transport:    &kafka.Transport{DialTimeout: 10 * time.Second, SASL: mech, TLS: tlsCfg},
	}, nil
}
