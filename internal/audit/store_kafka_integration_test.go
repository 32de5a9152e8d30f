//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"genascope/internal/audit"
	"genascope/internal/platform/kafka/producer"
	"genascope/pkg/testutil/containers"
)

type KafkaStoreSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestKafkaStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaStoreSuite))
}

func (s *KafkaStoreSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())
	prod, err := producer.New(producer.Config{Brokers: s.kafka.Brokers}, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *KafkaStoreSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *KafkaStoreSuite) TestAppendPublishesKeyedBySession() {
	ctx := context.Background()
	topic := "genascope.audit.test"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic))

	store := audit.NewKafkaStore(s.producer, topic)
	s.Require().NoError(store.Append(ctx, audit.Event{
		SessionID: "sid-42",
		UserID:    "u1",
		Action:    string(audit.ActionLogout),
		Timestamp: time.Now(),
	}))

	record, err := s.kafka.ReadFirst(ctx, topic, 10*time.Second)
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal("sid-42", string(record.Key))

	var got audit.Event
	s.Require().NoError(json.Unmarshal(record.Value, &got))
	s.Equal("logout", got.Action)
	s.Equal("u1", got.UserID)
}
