package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorDeliveryInbox(t *testing.T) {
	a := &Actor{Inbox: "https://example.com/users/bob/inbox"}
	assert.Equal(t, "https://example.com/users/bob/inbox", a.DeliveryInbox())

	a.SharedInbox = "https://example.com/inbox"
	assert.Equal(t, "https://example.com/inbox", a.DeliveryInbox())
}
