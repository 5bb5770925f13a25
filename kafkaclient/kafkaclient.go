package kafkaclient

import (
	"github.com/twmb/franz-go/pkg/kgo"
)

// New builds a producer client for the outcome events topic.
func New(hostPorts []string, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(hostPorts...),
		kgo.AllowAutoTopicCreation(),
		kgo.DefaultProduceTopic(topic),
	)
}
