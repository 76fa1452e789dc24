package relay

import (
	"encoding/json"
	"errors"
	mrand "math/rand"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/Catrya/mostro/constants"
)

// UnwrappedGift is an inbound rumor together with the seal signer. The rumor
// pubkey is the counterparty's trade key; Sender is the identity that sealed
// the message.
type UnwrappedGift struct {
	Sender string
	Rumor  nostr.Event
}

// WrapMessage builds a NIP-59 gift wrap around a plaintext rumor: the rumor
// is sealed with the daemon key and wrapped with a throwaway key so relays
// learn nothing about the sender.
func WrapMessage(content string, senderSecretKey string, recipientPubkey string) (*nostr.Event, error) {
	senderPubkey, err := nostr.GetPublicKey(senderSecretKey)
	if err != nil {
		return nil, err
	}

	rumor := nostr.Event{
		PubKey:    senderPubkey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{},
		Content:   content,
	}
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, err
	}

	sealKey, err := nip44.GenerateConversationKey(recipientPubkey, senderSecretKey)
	if err != nil {
		return nil, err
	}
	sealedContent, err := nip44.Encrypt(string(rumorJSON), sealKey)
	if err != nil {
		return nil, err
	}

	seal := nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      constants.SEAL_KIND,
		Tags:      nostr.Tags{},
		Content:   sealedContent,
	}
	if err := seal.Sign(senderSecretKey); err != nil {
		return nil, err
	}
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, err
	}

	wrapSecretKey := nostr.GeneratePrivateKey()
	wrapKey, err := nip44.GenerateConversationKey(recipientPubkey, wrapSecretKey)
	if err != nil {
		return nil, err
	}
	wrappedContent, err := nip44.Encrypt(string(sealJSON), wrapKey)
	if err != nil {
		return nil, err
	}

	wrap := nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      constants.GIFT_WRAP_KIND,
		Tags:      nostr.Tags{{"p", recipientPubkey}},
		Content:   wrappedContent,
	}
	if err := wrap.Sign(wrapSecretKey); err != nil {
		return nil, err
	}

	return &wrap, nil
}

// TradeKeyProven reports whether the sender controls the rumor pubkey. The
// rumor itself is unsigned, so the trade key counts only when it matches the
// seal signer or the rumor carries its own valid signature.
func (g *UnwrappedGift) TradeKeyProven() bool {
	if g.Rumor.PubKey == g.Sender {
		return true
	}
	if g.Rumor.Sig == "" {
		return false
	}
	ok, err := g.Rumor.CheckSignature()
	return err == nil && ok
}

// UnwrapMessage reverses WrapMessage for an inbound kind-1059 event.
func UnwrapMessage(wrap *nostr.Event, recipientSecretKey string) (*UnwrappedGift, error) {
	if wrap.Kind != constants.GIFT_WRAP_KIND {
		return nil, errors.New("not a gift wrap event")
	}

	wrapKey, err := nip44.GenerateConversationKey(wrap.PubKey, recipientSecretKey)
	if err != nil {
		return nil, err
	}
	sealJSON, err := nip44.Decrypt(wrap.Content, wrapKey)
	if err != nil {
		return nil, err
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nil, err
	}
	if seal.Kind != constants.SEAL_KIND {
		return nil, errors.New("gift wrap does not contain a seal")
	}
	if ok, err := seal.CheckSignature(); err != nil || !ok {
		return nil, errors.New("invalid seal signature")
	}

	sealKey, err := nip44.GenerateConversationKey(seal.PubKey, recipientSecretKey)
	if err != nil {
		return nil, err
	}
	rumorJSON, err := nip44.Decrypt(seal.Content, sealKey)
	if err != nil {
		return nil, err
	}

	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, err
	}

	return &UnwrappedGift{
		Sender: seal.PubKey,
		Rumor:  rumor,
	}, nil
}

// gift wrap timestamps are randomized into the past two days to resist
// timing correlation
func randomPastTimestamp() nostr.Timestamp {
	offset := time.Duration(mrand.Int63n(int64(2 * 24 * time.Hour)))
	return nostr.Timestamp(time.Now().Add(-offset).Unix())
}
