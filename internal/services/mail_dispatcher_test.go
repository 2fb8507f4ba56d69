package services

import (
	"context"
	"testing"
	"yardstick/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMail(to string) *queue.MailMessage {
	return &queue.MailMessage{
		Kind:    MailKindInvitation,
		To:      []string{to},
		Subject: "hello",
		Body:    "<p>hi</p>",
	}
}

func TestMailDispatcher_DirectSend(t *testing.T) {
	sender := &recordingSender{}
	d := NewMailDispatcher(sender, nil, 3)

	d.Dispatch(context.Background(), testMail("a@example.com"))
	d.Dispatch(context.Background(), &queue.MailMessage{Kind: MailKindInvitation})
	d.Wait()

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"a@example.com"}, msgs[0].to)

	// 没有队列时 Start 不做任何事，DrainOnce 直接返回
	require.NoError(t, d.Start("@every 1s"))
	n, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	d.Stop()
}

func TestMailDispatcher_NilSafe(t *testing.T) {
	var d *MailDispatcher
	assert.NotPanics(t, func() { d.Dispatch(context.Background(), testMail("a@example.com")) })
}

func TestMailDispatcher_QueueDrain(t *testing.T) {
	_, client := newMiniredisClient(t)
	q := queue.NewRedisQueue(client, "test")
	sender := &recordingSender{}
	d := NewMailDispatcher(sender, q, 3)
	ctx := context.Background()

	d.Dispatch(ctx, testMail("a@example.com"))
	d.Dispatch(ctx, testMail("b@example.com"))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, length)
	assert.Empty(t, sender.messages())

	n, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"a@example.com"}, msgs[0].to)
	assert.Equal(t, []string{"b@example.com"}, msgs[1].to)

	length, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestMailDispatcher_DeadLetter(t *testing.T) {
	_, client := newMiniredisClient(t)
	q := queue.NewRedisQueue(client, "test")
	sender := &recordingSender{fail: true}
	d := NewMailDispatcher(sender, q, 3)
	ctx := context.Background()

	d.Dispatch(ctx, testMail("a@example.com"))

	for round := 1; round <= 3; round++ {
		n, err := d.DrainOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)

	dead, err := q.DeadLength(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dead)
}

func TestMailDispatcher_RetryThenSucceed(t *testing.T) {
	_, client := newMiniredisClient(t)
	q := queue.NewRedisQueue(client, "test")
	sender := &recordingSender{fail: true}
	d := NewMailDispatcher(sender, q, 3)
	ctx := context.Background()

	d.Dispatch(ctx, testMail("a@example.com"))
	n, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sender.mu.Lock()
	sender.fail = false
	sender.mu.Unlock()

	n, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sender.messages(), 1)
}

func TestMailDispatcher_StartInvalidSpec(t *testing.T) {
	_, client := newMiniredisClient(t)
	d := NewMailDispatcher(&recordingSender{}, queue.NewRedisQueue(client, "test"), 3)

	assert.Error(t, d.Start("not a cron spec"))
	require.NoError(t, d.Start("@every 1h"))
	assert.Error(t, d.Start("@every 1h"))
	d.Stop()
}

func TestMailDispatcher_SkipsMalformedMessage(t *testing.T) {
	mr, client := newMiniredisClient(t)
	q := queue.NewRedisQueue(client, "test")
	sender := &recordingSender{}
	d := NewMailDispatcher(sender, q, 3)
	ctx := context.Background()

	d.Dispatch(ctx, testMail("a@example.com"))
	_, err := mr.Lpush("test:mail:outbox", "garbage")
	require.NoError(t, err)
	d.Dispatch(ctx, testMail("b@example.com"))

	n, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, sender.messages(), 2)

	dead, err := q.DeadLength(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dead)
}
