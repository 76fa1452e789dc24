package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/Catrya/mostro/config"
	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/protocol"
)

const publishAttempts = 3

// MessageHandler receives every unwrapped inbound gift.
type MessageHandler func(ctx context.Context, gift *UnwrappedGift)

type RelayStatus struct {
	Url    string
	Online bool
}

// Service is the daemon's single connection to the relay network: it keeps
// the pool, publishes the public order book and moves gift-wrapped direct
// messages in both directions.
type Service struct {
	cfg       *config.Config
	pool      *nostr.SimplePool
	secretKey string
	pubkey    string

	relayStatuses []RelayStatus
}

func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	secretKey := cfg.Settings.Nostr.SecretKey
	pubkey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Invalid nostr secret key")
		return nil, err
	}

	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return nil, err
	}

	pool := nostr.NewSimplePool(ctx, nostr.WithRelayOptions(
		nostr.WithRequestHeader(http.Header{
			"User-Agent": {"mostrod"},
		}),
	))

	svc := &Service{
		cfg:       cfg,
		pool:      pool,
		secretKey: secretKey,
		pubkey:    pubkey,
	}

	for _, relayUrl := range cfg.GetRelayUrls() {
		_, err := pool.EnsureRelay(relayUrl)
		if err != nil {
			logger.Logger.Error().Err(err).Str("relay_url", relayUrl).Msg("failed to initially connect to relay")
		}
	}

	go svc.trackRelayStatuses(ctx)

	logger.Logger.Info().
		Str("npub", npub).
		Str("hex", pubkey).
		Strs("relay_urls", cfg.GetRelayUrls()).
		Msg("Connected to relay pool")

	return svc, nil
}

func (svc *Service) Pubkey() string {
	return svc.pubkey
}

func (svc *Service) RelayStatuses() []RelayStatus {
	return svc.relayStatuses
}

func (svc *Service) trackRelayStatuses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			statuses := []RelayStatus{}
			for _, relayUrl := range svc.cfg.GetRelayUrls() {
				relay, ok := svc.pool.Relays.Load(relayUrl)
				statuses = append(statuses, RelayStatus{
					Url:    relayUrl,
					Online: ok && relay != nil && relay.IsConnected(),
				})
			}
			svc.relayStatuses = statuses
			time.Sleep(10 * time.Second)
		}
	}
}

// Subscribe listens for gift-wrapped events addressed to the daemon and
// hands each unwrapped rumor to the handler. Stale rumors are dropped here
// so replays never reach the engine.
func (svc *Service) Subscribe(ctx context.Context, handler MessageHandler) error {
	filter := nostr.Filter{
		Tags:  nostr.TagMap{"p": []string{svc.pubkey}},
		Kinds: []int{constants.GIFT_WRAP_KIND},
	}

	for {
		subCtx, cancelSubscription := context.WithCancel(ctx)
		eventsChannel := svc.pool.SubscribeMany(subCtx, svc.cfg.GetRelayUrls(), filter)

		err := svc.watchSubscription(subCtx, eventsChannel, handler)
		cancelSubscription()
		if err != nil {
			logger.Logger.Error().Err(err).Msg("got an error from the relay while listening to subscription, resubscribing")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
				continue
			}
		}
		return nil
	}
}

func (svc *Service) watchSubscription(ctx context.Context, eventsChannel chan nostr.RelayEvent, handler MessageHandler) error {
	eventsChannelClosed := make(chan struct{})
	go func() {
		for event := range eventsChannel {
			select {
			case <-ctx.Done():
				return
			default:
				svc.handleWrappedEvent(ctx, event.Event, handler)
			}
		}
		logger.Logger.Debug().Msg("Relay subscription events channel ended")
		eventsChannelClosed <- struct{}{}
	}()

	select {
	case <-ctx.Done():
		logger.Logger.Info().Msg("Exiting subscription due to context exit...")
		return nil
	case <-eventsChannelClosed:
		logger.Logger.Info().Msg("Subscription was exited abnormally")
		return errors.New("subscription exited abnormally")
	}
}

func (svc *Service) handleWrappedEvent(ctx context.Context, event *nostr.Event, handler MessageHandler) {
	if ok, err := event.CheckSignature(); err != nil || !ok {
		logger.Logger.Warn().Str("event_id", event.ID).Msg("Dropping gift wrap with invalid signature")
		return
	}

	gift, err := UnwrapMessage(event, svc.secretKey)
	if err != nil {
		logger.Logger.Debug().Err(err).Str("event_id", event.ID).Msg("Failed to unwrap gift wrap, dropping")
		return
	}

	// Rumors older than the freshness window are replays.
	since := time.Now().Add(-constants.RUMOR_MAX_AGE)
	if gift.Rumor.CreatedAt.Time().Before(since) {
		logger.Logger.Debug().Str("event_id", event.ID).Msg("Dropping stale rumor")
		return
	}

	go handler(ctx, gift)
}

// SendMessage gift wraps a protocol message and publishes it to the
// recipient with bounded retries. Callers invoke this only after their DB
// transaction committed; a publish failure is logged, never rolled back.
func (svc *Service) SendMessage(ctx context.Context, msg *protocol.Message, recipientPubkey string) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	wrap, err := WrapMessage(payload, svc.secretKey, recipientPubkey)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("recipient", recipientPubkey).
			Msg("Failed to gift wrap message")
		return err
	}

	return svc.publish(ctx, wrap)
}

// PublishOrderEvent republishes the order's replaceable order book entry.
// Non-public statuses are skipped.
func (svc *Service) PublishOrderEvent(ctx context.Context, order *db.Order) error {
	if !IsPublicStatus(order.Status) {
		return nil
	}

	event := BuildOrderBookEvent(order, svc.pubkey)
	if err := event.Sign(svc.secretKey); err != nil {
		return err
	}

	logger.Logger.Debug().
		Str("order_id", order.ID).
		Str("status", order.Status).
		Msg("Publishing order book event")

	return svc.publish(ctx, event)
}

func (svc *Service) publish(ctx context.Context, event *nostr.Event) error {
	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		published := false
		for _, relayUrl := range svc.cfg.GetRelayUrls() {
			relay, err := svc.pool.EnsureRelay(relayUrl)
			if err != nil {
				lastErr = err
				continue
			}
			if err := relay.Publish(ctx, *event); err != nil {
				logger.Logger.Debug().Err(err).
					Str("relay_url", relayUrl).
					Str("event_id", event.ID).
					Msg("Failed to publish event to relay")
				lastErr = err
				continue
			}
			published = true
		}
		if published {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	logger.Logger.Error().Err(lastErr).
		Str("event_id", event.ID).
		Msg("Failed to publish event to any relay")
	return lastErr
}
