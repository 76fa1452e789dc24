package relay

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Catrya/mostro/constants"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	senderPubkey, err := nostr.GetPublicKey(senderSecret)
	require.NoError(t, err)
	recipientSecret := nostr.GeneratePrivateKey()
	recipientPubkey, err := nostr.GetPublicKey(recipientSecret)
	require.NoError(t, err)

	payload := `{"order":{"version":1,"action":"new-order"}}`
	wrap, err := WrapMessage(payload, senderSecret, recipientPubkey)
	require.NoError(t, err)

	assert.Equal(t, constants.GIFT_WRAP_KIND, wrap.Kind)
	ok, err := wrap.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)

	// the wrap is signed by a throwaway key, not the sender
	assert.NotEqual(t, senderPubkey, wrap.PubKey)
	pTag := wrap.Tags.GetFirst([]string{"p"})
	require.NotNil(t, pTag)
	assert.Equal(t, recipientPubkey, pTag.Value())

	gift, err := UnwrapMessage(wrap, recipientSecret)
	require.NoError(t, err)
	assert.Equal(t, senderPubkey, gift.Sender)
	assert.Equal(t, senderPubkey, gift.Rumor.PubKey)
	assert.Equal(t, payload, gift.Rumor.Content)

	// rumor timestamp is real time, wrap and seal timestamps are randomized
	assert.WithinDuration(t, time.Now(), gift.Rumor.CreatedAt.Time(), 10*time.Second)
	assert.True(t, wrap.CreatedAt.Time().Before(time.Now().Add(time.Second)))
}

func TestUnwrapRejectsWrongRecipient(t *testing.T) {
	senderSecret := nostr.GeneratePrivateKey()
	recipientSecret := nostr.GeneratePrivateKey()
	recipientPubkey, err := nostr.GetPublicKey(recipientSecret)
	require.NoError(t, err)
	otherSecret := nostr.GeneratePrivateKey()

	wrap, err := WrapMessage("hello", senderSecret, recipientPubkey)
	require.NoError(t, err)

	_, err = UnwrapMessage(wrap, otherSecret)
	assert.Error(t, err)
}

func TestUnwrapRejectsNonGiftWrap(t *testing.T) {
	event := &nostr.Event{Kind: nostr.KindTextNote}
	_, err := UnwrapMessage(event, nostr.GeneratePrivateKey())
	assert.Error(t, err)
}

func TestTradeKeyProven(t *testing.T) {
	sealPubkey := "aaaa000000000000000000000000000000000000000000000000000000000001"
	tradeSecret := nostr.GeneratePrivateKey()
	tradePubkey, err := nostr.GetPublicKey(tradeSecret)
	require.NoError(t, err)

	// rumor pubkey matches the seal signer
	gift := &UnwrappedGift{
		Sender: sealPubkey,
		Rumor:  nostr.Event{PubKey: sealPubkey, Kind: nostr.KindTextNote},
	}
	assert.True(t, gift.TradeKeyProven())

	// distinct unsigned rumor pubkey is not proven
	gift.Rumor.PubKey = tradePubkey
	assert.False(t, gift.TradeKeyProven())

	// a valid rumor signature proves a distinct trade key
	signed := nostr.Event{
		PubKey:    tradePubkey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{},
		Content:   "hello",
	}
	require.NoError(t, signed.Sign(tradeSecret))
	gift.Rumor = signed
	assert.True(t, gift.TradeKeyProven())

	// a signature under some other key does not
	forged := signed
	forged.PubKey = sealPubkey
	gift.Rumor = forged
	assert.False(t, gift.TradeKeyProven())
}
