// Package pubsub_test exercises the publisher against an in-memory Pub/Sub server.
package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/veilletech/sitewatch/internal/publisher/pubsub"
)

func TestPublisherPublishAndClose(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	admin, err := gpubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	topic, err := admin.CreateTopic(ctx, "cycle-events")
	require.NoError(t, err)
	sub, err := admin.CreateSubscription(ctx, "cycle-events-sub", gpubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := pubsub.New(ctx, "project-id", "cycle-events", option.WithGRPCConn(conn))
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "cycle-events", map[string]string{"cycle_id": "cycle-123", "status": "completed"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = pub.Publish(ctx, "cycle-events", func() {})
	assert.ErrorContains(t, err, "marshal payload")

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	got := make(chan []byte, 1)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *gpubsub.Message) {
			msg.Ack()
			select {
			case got <- msg.Data:
			default:
			}
			cancel()
		})
	}()

	select {
	case data := <-got:
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, "cycle-123", decoded["cycle_id"])
		assert.Equal(t, "completed", decoded["status"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published message")
	}

	assert.NoError(t, pub.Close())
}

func TestNewRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, err := pubsub.New(context.Background(), "", "cycle-events")
	assert.Error(t, err)

	_, err = pubsub.New(context.Background(), "project-id", "")
	assert.Error(t, err)
}

func TestPublisherNilSafe(t *testing.T) {
	t.Parallel()

	var pub *pubsub.Publisher
	_, err := pub.Publish(context.Background(), "cycle-events", "payload")
	assert.ErrorContains(t, err, "not configured")
	assert.NoError(t, pub.Close())
}
