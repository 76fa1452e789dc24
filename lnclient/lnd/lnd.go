package lnd

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/rs/zerolog"

	"github.com/Catrya/mostro/events"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/lnclient/lnd/wrapper"
	"github.com/Catrya/mostro/logger"
)

type LNDService struct {
	client         *wrapper.LNDWrapper
	nodeInfo       *lnclient.NodeInfo
	cancel         context.CancelFunc
	ctx            context.Context
	eventPublisher events.EventPublisher
	logger         zerolog.Logger
}

func NewLNDService(ctx context.Context, eventPublisher events.EventPublisher, lndAddress, lndCertHex, lndMacaroonHex string) (result lnclient.LNClient, err error) {
	if lndAddress == "" || lndMacaroonHex == "" {
		return nil, errors.New("one or more required LND configuration are missing")
	}

	lndClient, err := wrapper.NewLNDclient(wrapper.LNDoptions{
		Address:     lndAddress,
		CertHex:     lndCertHex,
		MacaroonHex: lndMacaroonHex,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create new LND client")
		return nil, err
	}

	var nodeInfo *lnclient.NodeInfo
	maxRetries := 5
	for i := range maxRetries {
		nodeInfo, err = fetchNodeInfo(ctx, lndClient)
		if err == nil {
			break
		}
		logger.Logger.Error().Err(err).
			Int("iteration", i).
			Msg("Failed to connect to LND, retrying in 2s")

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			logger.Logger.Error().Err(ctx.Err()).Msg("Context cancelled during LND connection retries")
			return nil, ctx.Err()
		}
	}

	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to connect to LND on final attempt, not attempting further retries")
		return nil, err
	}

	lndCtx, cancel := context.WithCancel(ctx)

	lndService := &LNDService{
		client:         lndClient,
		nodeInfo:       nodeInfo,
		cancel:         cancel,
		ctx:            lndCtx,
		eventPublisher: eventPublisher,
		logger:         logger.Logger.With().Str("backend", "LND").Logger(),
	}

	go lndService.subscribeOpenHoldInvoices(lndCtx)

	logger.Logger.Info().Str("alias", nodeInfo.Alias).Msg("Connected to LND")

	return lndService, nil
}

func fetchNodeInfo(ctx context.Context, client *wrapper.LNDWrapper) (*lnclient.NodeInfo, error) {
	resp, err := client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, err
	}
	network := ""
	if len(resp.Chains) > 0 {
		network = resp.Chains[0].Network
	}
	return &lnclient.NodeInfo{
		Alias:       resp.Alias,
		Pubkey:      resp.IdentityPubkey,
		Network:     network,
		BlockHeight: resp.BlockHeight,
	}, nil
}

// subscribeOpenHoldInvoices resubscribes to every still-open hold invoice
// after a restart or reconnect, so no accept/settle event is lost.
func (svc *LNDService) subscribeOpenHoldInvoices(ctx context.Context) {
	oneWeekAgo := time.Now().AddDate(0, 0, -7).Unix()

	listInvoicesResponse, err := svc.client.ListInvoices(ctx, &lnrpc.ListInvoiceRequest{
		PendingOnly:       true,
		CreationDateStart: uint64(oneWeekAgo),
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list invoices for open hold invoices subscription")
		return
	}

	for _, invoice := range listInvoicesResponse.Invoices {
		if invoice.State == lnrpc.Invoice_OPEN || invoice.State == lnrpc.Invoice_ACCEPTED {
			paymentHashHex := hex.EncodeToString(invoice.RHash)
			logger.Logger.Info().
				Str("paymentHash", paymentHashHex).
				Uint64("addIndex", invoice.AddIndex).
				Msg("Resubscribing to pending hold invoice")
			go svc.subscribeSingleInvoice(invoice.RHash)
		}
	}
}

// subscribeSingleInvoice tracks one hold invoice until a final state and
// publishes every transition on the internal bus. The engine dedupes by
// (hash, state), so redelivery after a reconnect is harmless.
func (svc *LNDService) subscribeSingleInvoice(paymentHashBytes []byte) {
	ctx, cancel := context.WithCancel(svc.ctx)
	defer cancel()

	paymentHashHex := hex.EncodeToString(paymentHashBytes)
	log := svc.logger.With().Str("paymentHash", paymentHashHex).Logger()

	log.Info().Msg("Starting subscribeSingleInvoice goroutine")

	subReq := &invoicesrpc.SubscribeSingleInvoiceRequest{
		RHash: paymentHashBytes,
	}

	invoiceStream, err := svc.client.SubscribeSingleInvoice(ctx, subReq)
	if err != nil {
		log.Error().Err(err).Msg("SubscribeSingleInvoice call failed")
		return
	}

	defer func() {
		log.Info().Msg("Exiting subscribeSingleInvoice goroutine")
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("PANIC recovered in single invoice stream processing")
		}
	}()

	for {
		invoice, err := invoiceStream.Recv()
		if err != nil {
			log.Error().Err(err).Msg("Failed to receive single invoice update from stream")
			return
		}
		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, exiting single invoice subscription loop")
			return
		}

		log.Info().
			Str("rawState", invoice.State.String()).
			Uint64("addIndex", invoice.AddIndex).
			Uint64("settleIndex", invoice.SettleIndex).
			Msg("Raw update received from single invoice stream")

		switch invoice.State {
		case lnrpc.Invoice_ACCEPTED:
			var minExpiry uint32
			for _, htlc := range invoice.Htlcs {
				if uint32(htlc.ExpiryHeight) < minExpiry || minExpiry == 0 {
					minExpiry = uint32(htlc.ExpiryHeight)
				}
			}
			svc.eventPublisher.Publish(&events.Event{
				Event: events.HoldInvoiceAcceptedEvent,
				Properties: &lnclient.InvoiceNotification{
					PaymentHash:    paymentHashHex,
					State:          lnclient.INVOICE_STATE_ACCEPTED,
					SettleDeadline: &minExpiry,
				},
			})
		case lnrpc.Invoice_SETTLED:
			svc.eventPublisher.Publish(&events.Event{
				Event: events.HoldInvoiceSettledEvent,
				Properties: &lnclient.InvoiceNotification{
					PaymentHash: paymentHashHex,
					State:       lnclient.INVOICE_STATE_SETTLED,
				},
			})
			return
		case lnrpc.Invoice_CANCELED:
			svc.eventPublisher.Publish(&events.Event{
				Event: events.HoldInvoiceCanceledEvent,
				Properties: &lnclient.InvoiceNotification{
					PaymentHash: paymentHashHex,
					State:       lnclient.INVOICE_STATE_CANCELED,
				},
			})
			return
		case lnrpc.Invoice_OPEN:
			// keep waiting
		}
	}
}

// MakeHoldInvoice generates the preimage locally, registers the hold invoice
// at the node and starts tracking it. The preimage stays with the order
// until release.
func (svc *LNDService) MakeHoldInvoice(ctx context.Context, amountSats int64, memo string, expiry int64, cltvExpiry uint64) (*lnclient.HoldInvoice, error) {
	preimageBytes := make([]byte, 32)
	if _, err := rand.Read(preimageBytes); err != nil {
		return nil, err
	}
	paymentHash := sha256.Sum256(preimageBytes)
	paymentHashHex := hex.EncodeToString(paymentHash[:])

	if expiry == 0 {
		expiry = lnclient.DEFAULT_INVOICE_EXPIRY
	}

	addInvoiceRequest := &invoicesrpc.AddHoldInvoiceRequest{
		Value:      amountSats,
		Memo:       memo,
		Expiry:     expiry,
		CltvExpiry: cltvExpiry,
		Hash:       paymentHash[:],
	}

	resp, err := svc.client.AddHoldInvoice(ctx, addInvoiceRequest)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create hold invoice")
		return nil, err
	}

	go svc.subscribeSingleInvoice(paymentHash[:])
	logger.Logger.Info().Str("paymentHash", paymentHashHex).Msg("Launched single invoice subscription goroutine")

	return &lnclient.HoldInvoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    paymentHashHex,
		Preimage:       hex.EncodeToString(preimageBytes),
	}, nil
}

func (svc *LNDService) SettleHoldInvoice(ctx context.Context, preimage string) error {
	preimageBytes, err := hex.DecodeString(preimage)
	if err != nil || len(preimageBytes) != 32 {
		if err == nil {
			err = errors.New("preimage must be 32 bytes hex")
		}
		logger.Logger.Error().Err(err).Msg("Invalid preimage")
		return err
	}

	_, err = svc.client.SettleInvoice(ctx, &invoicesrpc.SettleInvoiceMsg{
		Preimage: preimageBytes,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to settle hold invoice")
		return err
	}
	return nil
}

func (svc *LNDService) CancelHoldInvoice(ctx context.Context, paymentHash string) error {
	paymentHashBytes, err := hex.DecodeString(paymentHash)
	if err != nil || len(paymentHashBytes) != 32 {
		if err == nil {
			err = errors.New("payment hash must be 32 bytes hex")
		}
		logger.Logger.Error().Err(err).
			Str("paymentHash", paymentHash).
			Msg("Invalid payment hash")
		return err
	}

	_, err = svc.client.CancelInvoice(ctx, &invoicesrpc.CancelInvoiceMsg{
		PaymentHash: paymentHashBytes,
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("paymentHash", paymentHash).
			Msg("Failed to cancel hold invoice")
		return err
	}
	return nil
}

// PayInvoice pays the buyer's bolt11 and blocks until the payment reaches a
// final state.
func (svc *LNDService) PayInvoice(ctx context.Context, payReq string, maxFeeSats int64) (*lnclient.PayInvoiceResponse, error) {
	const MAX_PARTIAL_PAYMENTS = 16
	const SEND_PAYMENT_TIMEOUT = 50

	sendRequest := &routerrpc.SendPaymentRequest{
		PaymentRequest: payReq,
		MaxParts:       MAX_PARTIAL_PAYMENTS,
		TimeoutSeconds: SEND_PAYMENT_TIMEOUT,
		FeeLimitSat:    maxFeeSats,
	}

	payStream, err := svc.client.SendPayment(ctx, sendRequest)
	if err != nil {
		logger.Logger.Error().Err(err).Str("bolt11", payReq).Msg("SendPayment failed")
		return nil, err
	}

	resp, err := svc.getPaymentResult(payStream)
	if err != nil {
		logger.Logger.Error().Err(err).Str("bolt11", payReq).Msg("Couldn't get response from paystream")
		return nil, err
	}

	if resp.Status != lnrpc.Payment_SUCCEEDED {
		failureReasonMessage := resp.FailureReason.String()
		logger.Logger.Error().
			Str("bolt11", payReq).
			Str("reason", failureReasonMessage).
			Msg("Payment not successful")
		return nil, errors.New(failureReasonMessage)
	}

	if resp.PaymentPreimage == "" {
		logger.Logger.Error().Str("bolt11", payReq).Msg("No payment preimage in response")
		return nil, errors.New("no preimage in response")
	}

	return &lnclient.PayInvoiceResponse{
		Preimage: resp.PaymentPreimage,
		FeeMsat:  uint64(resp.FeeMsat),
	}, nil
}

func (svc *LNDService) getPaymentResult(stream routerrpc.Router_SendPaymentV2Client) (*lnrpc.Payment, error) {
	for {
		payment, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		if payment.Status != lnrpc.Payment_IN_FLIGHT {
			return payment, nil
		}
	}
}

func (svc *LNDService) LookupInvoiceState(ctx context.Context, paymentHash string) (string, error) {
	paymentHashBytes, err := hex.DecodeString(paymentHash)
	if err != nil || len(paymentHashBytes) != 32 {
		if err == nil {
			err = errors.New("payment hash must be 32 bytes hex")
		}
		logger.Logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Invalid payment hash")
		return "", err
	}

	lndInvoice, err := svc.client.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: paymentHashBytes})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Failed to lookup invoice")
		return "", err
	}

	switch lndInvoice.State {
	case lnrpc.Invoice_ACCEPTED:
		return lnclient.INVOICE_STATE_ACCEPTED, nil
	case lnrpc.Invoice_SETTLED:
		return lnclient.INVOICE_STATE_SETTLED, nil
	case lnrpc.Invoice_CANCELED:
		return lnclient.INVOICE_STATE_CANCELED, nil
	default:
		return lnclient.INVOICE_STATE_OPEN, nil
	}
}

func (svc *LNDService) SubscribeInvoice(paymentHash string) {
	paymentHashBytes, err := hex.DecodeString(paymentHash)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("paymentHash", paymentHash).
			Msg("Invalid payment hash for subscription")
		return
	}
	go svc.subscribeSingleInvoice(paymentHashBytes)
}

func (svc *LNDService) GetInfo(ctx context.Context) (*lnclient.NodeInfo, error) {
	return svc.nodeInfo, nil
}

func (svc *LNDService) Shutdown() error {
	logger.Logger.Info().Msg("cancelling LND context")
	svc.cancel()
	return nil
}
