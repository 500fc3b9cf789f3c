package broadcast_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/broadcast"
	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "thermobeacon/test/summary"

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startBroker(t *testing.T) string {
	t.Helper()

	_, broker := startServer(t)
	return broker
}

// startServer returns a stop function that is safe to call more than once.
func startServer(t *testing.T) (func(), string) {
	t.Helper()

	addr := freeAddr(t)

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, server.Serve())

	var once sync.Once
	stop := func() { once.Do(func() { _ = server.Close() }) }
	t.Cleanup(stop)

	return stop, "tcp://" + addr
}

func subscribe(t *testing.T, broker string) <-chan []byte {
	t.Helper()

	msgs := make(chan []byte, 8)

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("subscriber")
	client := mqtt.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	token = client.Subscribe(testTopic, 1, func(_ mqtt.Client, m mqtt.Message) {
		msgs <- m.Payload()
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	return msgs
}

func TestMQTTPublish(t *testing.T) {
	broker := startBroker(t)
	msgs := subscribe(t, broker)

	pub, err := broadcast.NewMQTT(broadcast.MQTTConfig{
		Broker: broker,
		Topic:  testTopic,
		QoS:    1,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	payload := []byte{0x59, 0x00, 0xFF, 0x2A, 0x09, 0xDA, 0xFD, 0xE5, 0x0C}
	require.NoError(t, pub.Publish(context.Background(), payload))

	select {
	case got := <-msgs:
		assert.Equal(t, payload, got)
	case <-time.After(5 * time.Second):
		t.Fatal("payload not delivered")
	}
}

func TestMQTTPublishTimesOutDuringBrokerOutage(t *testing.T) {
	stopBroker, broker := startServer(t)

	pub, err := broadcast.NewMQTT(broadcast.MQTTConfig{
		Broker:         broker,
		Topic:          testTopic,
		QoS:            1,
		PublishTimeout: 200 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	require.NoError(t, pub.Publish(context.Background(), []byte{1}))

	stopBroker()

	done := make(chan error, 1)
	go func() {
		done <- pub.Publish(context.Background(), []byte{2})
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, broadcast.ErrSend))
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked while the broker was down")
	}
}

func TestMQTTPublishAfterClose(t *testing.T) {
	broker := startBroker(t)

	pub, err := broadcast.NewMQTT(broadcast.MQTTConfig{Broker: broker, Topic: testTopic}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	err = pub.Publish(context.Background(), []byte{1, 2, 3})
	assert.True(t, errors.HasCode(err, broadcast.ErrClosed))
}

func TestMQTTConnectFailure(t *testing.T) {
	broker := fmt.Sprintf("tcp://%s", freeAddr(t))

	_, err := broadcast.NewMQTT(broadcast.MQTTConfig{
		Broker:         broker,
		Topic:          testTopic,
		ConnectRetries: 1,
	}, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, broadcast.ErrConnect))
}

func TestMQTTRequiresBrokerAndTopic(t *testing.T) {
	_, err := broadcast.NewMQTT(broadcast.MQTTConfig{Topic: testTopic}, logger.Nop())
	assert.True(t, errors.HasCode(err, errors.ErrMissingConfig))

	_, err = broadcast.NewMQTT(broadcast.MQTTConfig{Broker: "tcp://localhost:1883"}, logger.Nop())
	assert.True(t, errors.HasCode(err, errors.ErrMissingConfig))
}
