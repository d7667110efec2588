package config

import (
	"github.com/IBM/sarama"
)

// ToSaramaConfig builds a sarama configuration for the synchronous event
// producer. The producer waits for the leader's durable acknowledgement on
// every send, bounded by PUBLISH_TIMEOUT.
func (c *Config) ToSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()

	// Synchronous producer: every SendMessage blocks until the broker acks.
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Timeout = c.PublishTimeout

	// Key-hash partitioning keeps all events for one aggregate on one partition.
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	// Retries here cover transient broker hiccups within a single publish
	// attempt; the outbox retry state machine handles everything beyond that.
	cfg.Producer.Retry.Max = 2

	cfg.Net.DialTimeout = c.PublishTimeout
	cfg.Net.WriteTimeout = c.PublishTimeout
	cfg.Net.ReadTimeout = c.PublishTimeout

	return cfg
}
