package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "identity.dlq", DLQTopicPrefix)
	assert.Equal(t, "identity.dlq.identity.mail.otp", DLQTopic("identity.mail.otp"))
	assert.Equal(t, "identity.dlq.", DLQTopic(""))
}

func TestDLQProducer_PublishAddsProvenance(t *testing.T) {
	w := &stubWriter{}
	d := &DLQProducer{writer: w, logger: testLogger()}

	src := kafka.Message{
		Topic:     "identity.mail.otp",
		Partition: 2,
		Offset:    41,
		Key:       []byte("u-1"),
		Value:     []byte(`{}`),
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte("mail.otp")}},
	}
	require.NoError(t, d.Publish(context.Background(), src, errors.New("boom"), "mailer"))
	require.Len(t, w.msgs, 1)

	out := w.msgs[0]
	assert.Equal(t, "identity.dlq.identity.mail.otp", out.Topic)
	assert.Equal(t, src.Key, out.Key)
	carrier := NewHeaderCarrier(&out.Headers)
	assert.Equal(t, "mail.otp", carrier.Get("event_type"))
	assert.Equal(t, "identity.mail.otp", carrier.Get("dlq.original_topic"))
	assert.Equal(t, "2", carrier.Get("dlq.original_partition"))
	assert.Equal(t, "41", carrier.Get("dlq.original_offset"))
	assert.Equal(t, "mailer", carrier.Get("dlq.consumer_group"))
	assert.Equal(t, "boom", carrier.Get("dlq.error"))
}

func TestDLQProducer_NilErrorOmitsHeader(t *testing.T) {
	msg := dlqMessage(kafka.Message{Topic: "t"}, nil, "g")
	assert.Empty(t, NewHeaderCarrier(&msg.Headers).Get("dlq.error"))
}

func TestDLQProducer_WriteFailure(t *testing.T) {
	d := &DLQProducer{writer: &stubWriter{err: errors.New("down")}, logger: testLogger()}
	err := d.Publish(context.Background(), kafka.Message{Topic: "t"}, nil, "g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to DLQ identity.dlq.t")
}
