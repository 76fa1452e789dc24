package orders

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Catrya/mostro/config"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/migrations"
	"github.com/Catrya/mostro/events"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/protocol"
	"github.com/Catrya/mostro/rates"
)

// BOLT11 test vector, amountless, donation invoice.
const testBolt11 = "lnbc1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdpl2pkx2ctnv5sxxmmwwd5kgetjypeh2ursdae8g6twvus8g6rfwvs8qun0dfjkxaq8rkx3yf5tcsyz3d73gafnh3cax9rn449d9p5uxz9ezhhypd0elx87sjle52x86fux2ypatgddc6k63n7erqz25le42c4u4ecky03ylcqca784w"

// BOLT11 test vector carrying an amount of 2500 uBTC (250000 sats).
const testBolt11Coffee = "lnbc2500u1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdq5xysxxatsyp3k7enxv4jsxqzpuaztrnwngzn3kdzw5hydlzf03qdgm2hdq27cqv3agm2awhz5se903vruatfhq77w3ls4evs3ch9zw97j25emudupq63nyw24cg27h2rspfj9srp"

const (
	makerPubkey  = "aaaa000000000000000000000000000000000000000000000000000000000001"
	takerPubkey  = "bbbb000000000000000000000000000000000000000000000000000000000002"
	adminPubkey  = "cccc000000000000000000000000000000000000000000000000000000000003"
	solverPubkey = "dddd000000000000000000000000000000000000000000000000000000000004"
)

type sentMessage struct {
	msg *protocol.Message
	to  string
}

type fakePublisher struct {
	mu        sync.Mutex
	messages  []sentMessage
	published []db.Order
}

func (p *fakePublisher) SendMessage(ctx context.Context, msg *protocol.Message, recipientPubkey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, sentMessage{msg: msg, to: recipientPubkey})
	return nil
}

func (p *fakePublisher) PublishOrderEvent(ctx context.Context, order *db.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, *order)
	return nil
}

func (p *fakePublisher) messagesTo(pubkey string) []*protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*protocol.Message
	for _, sent := range p.messages {
		if sent.to == pubkey {
			out = append(out, sent.msg)
		}
	}
	return out
}

func (p *fakePublisher) lastMessageTo(t *testing.T, pubkey string) *protocol.Message {
	t.Helper()
	msgs := p.messagesTo(pubkey)
	require.NotEmpty(t, msgs, "expected a message to %s", pubkey)
	return msgs[len(msgs)-1]
}

func (p *fakePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
	p.published = nil
}

type fakeLNClient struct {
	mu            sync.Mutex
	holdAmounts   []int64
	settled       []string
	canceled      []string
	paidInvoices  []string
	payErr        error
	settleErr     error
	invoiceStates map[string]string
}

func newFakeLNClient() *fakeLNClient {
	return &fakeLNClient{invoiceStates: map[string]string{}}
}

func (c *fakeLNClient) MakeHoldInvoice(ctx context.Context, amountSats int64, memo string, expiry int64, cltvExpiry uint64) (*lnclient.HoldInvoice, error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, err
	}
	hash := sha256.Sum256(preimage)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdAmounts = append(c.holdAmounts, amountSats)
	return &lnclient.HoldInvoice{
		PaymentRequest: "lnbcfake" + hex.EncodeToString(hash[:8]),
		PaymentHash:    hex.EncodeToString(hash[:]),
		Preimage:       hex.EncodeToString(preimage),
	}, nil
}

func (c *fakeLNClient) SettleHoldInvoice(ctx context.Context, preimage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settleErr != nil {
		return c.settleErr
	}
	c.settled = append(c.settled, preimage)
	return nil
}

func (c *fakeLNClient) CancelHoldInvoice(ctx context.Context, paymentHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, paymentHash)
	return nil
}

func (c *fakeLNClient) PayInvoice(ctx context.Context, payReq string, maxFeeSats int64) (*lnclient.PayInvoiceResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payErr != nil {
		return nil, c.payErr
	}
	c.paidInvoices = append(c.paidInvoices, payReq)
	return &lnclient.PayInvoiceResponse{Preimage: "00", FeeMsat: 1000}, nil
}

func (c *fakeLNClient) LookupInvoiceState(ctx context.Context, paymentHash string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.invoiceStates[paymentHash]; ok {
		return state, nil
	}
	return lnclient.INVOICE_STATE_ACCEPTED, nil
}

func (c *fakeLNClient) SubscribeInvoice(paymentHash string) {}

func (c *fakeLNClient) GetInfo(ctx context.Context) (*lnclient.NodeInfo, error) {
	return &lnclient.NodeInfo{Alias: "test", Network: "regtest"}, nil
}

func (c *fakeLNClient) Shutdown() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Env: &config.AppConfig{},
		Settings: &config.Settings{
			Mostro: config.MostroSettings{
				FeePercent:                  2.0,
				ExpirationSeconds:           86400,
				MaxRoutingFee:               0.001,
				MinPaymentAmount:            100,
				MaxOrderAmount:              10000000,
				HoldInvoiceExpirationWindow: 900,
				HoldInvoiceCltvDelta:        144,
				InvoiceExpirationWindowMin:  15,
				PublishRelaysInterval:       60,
			},
			Rate: config.RateSettings{RefreshSeconds: 300},
		},
	}
}

func newTestRates(t *testing.T) *rates.Service {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"BTC": {"USD": 50000, "EUR": 46000},
		})
	}))
	t.Cleanup(server.Close)

	svc := rates.NewService(server.URL)
	require.NoError(t, svc.Refresh(context.Background()))
	return svc
}

func newTestService(t *testing.T) (*Service, *fakeLNClient, *fakePublisher) {
	t.Helper()
	gormDB, err := db.NewDB("file::memory:", false)
	require.NoError(t, err)
	require.NoError(t, migrations.Migrate(gormDB))

	lnClient := newFakeLNClient()
	publisher := &fakePublisher{}
	svc := NewService(gormDB, testConfig(), lnClient, publisher, newTestRates(t), events.NewEventPublisher())
	return svc, lnClient, publisher
}

func ptr[T any](v T) *T { return &v }

// makeOrder runs a new-order message through the engine and returns the
// created order id.
func makeOrder(t *testing.T, svc *Service, publisher *fakePublisher, payload *protocol.OrderPayload, tradeIndex int64) string {
	t.Helper()
	msg := &protocol.InnerMessage{
		Version:    1,
		Action:     protocol.ActionNewOrder,
		TradeIndex: &tradeIndex,
		Content:    &protocol.Content{Order: payload},
	}
	require.NoError(t, svc.NewOrder(context.Background(), makerPubkey, makerPubkey, msg))

	reply := publisher.lastMessageTo(t, makerPubkey)
	require.Equal(t, protocol.ActionNewOrder, reply.Inner().Action, "new order was rejected: %+v", reply.Inner().Content)
	require.NotNil(t, reply.Inner().ID)
	return *reply.Inner().ID
}

func getOrder(t *testing.T, svc *Service, orderID string) *db.Order {
	t.Helper()
	var order db.Order
	require.NoError(t, svc.db.First(&order, "id = ?", orderID).Error)
	return &order
}
