package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/extensions/idempotency"
	medhttp "github.com/firasabs/medSmartContract/http"
	ledgerevm "github.com/firasabs/medSmartContract/ledger/evm"
	"github.com/firasabs/medSmartContract/log"
	"github.com/firasabs/medSmartContract/signers/evm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found. Using environment variables.")
	}

	config, err := medchain.LoadConfigFromEnv()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log.InitConfig(&config.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		log.L(ctx).Errorf("Exiting: %s", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *medchain.Config) error {
	pricePerUnit, err := config.PricePerUnitWei()
	if err != nil {
		return err
	}

	signer, err := evm.NewSignerFromPrivateKey(ctx, config.PrivateKey, config.RPCURL,
		evm.WithPollInterval(config.GetReceiptPollInterval()))
	if err != nil {
		return err
	}
	ledger, err := ledgerevm.NewLedger(signer, common.HexToAddress(config.ContractAddress))
	if err != nil {
		return err
	}
	log.L(ctx).Infof("Connected as %s to contract %s on chain %s", signer.Address().Hex(), ledger.Address().Hex(), signer.ChainID())

	tracker := medchain.NewTracker(ledger, nil)
	sequencer := medchain.NewSequencer(ledger, ledgerevm.NewValueTransfer(signer), tracker,
		medchain.WithPricePerUnit(pricePerUnit),
		medchain.WithConfirmationTimeout(config.GetConfirmationTimeout()),
		medchain.WithCompletionRetry(config.CompletionRetry),
	)
	sequencer.
		OnBeforePayment(balanceCheck(signer)).
		OnAfterPayment(func(pc medchain.PaymentResultContext) {
			log.L(pc.Ctx).Infof("Paid %s ether to %s in block %d", medchain.FormatEther(pc.TotalCost), pc.Beneficiary.Hex(), pc.Payment.BlockNumber)
		}).
		OnAfterCompletion(func(cc medchain.CompletionResultContext) {
			log.L(cc.Ctx).Infof("Purchase completed in %s", cc.Duration)
		}).
		OnFailure(func(fc medchain.PurchaseFailureContext) {
			log.L(fc.Ctx).Warnf("Purchase failed after %s: %s", fc.Duration, fc.Error)
		})

	purchases := idempotency.Wrap(sequencer, idempotency.WithTTL(config.GetIdempotencyTTL()))

	if log.GetLevel() != "debug" && log.GetLevel() != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	api := medhttp.NewServer(tracker, medchain.NewModerator(ledger, tracker), purchases,
		medhttp.WithInventory(ledger),
		medhttp.WithAdminRegistry(ledger),
		medhttp.WithBuyRequestSubmitter(ledger, medchain.IdentityGenerator{}),
		medhttp.WithAccount(signer.Address()),
		medhttp.WithPricePerUnit(pricePerUnit),
		medhttp.WithConfirmationTimeout(config.GetConfirmationTimeout()),
	)

	server := &http.Server{
		Addr:    ":" + config.GetPort(),
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.L(ctx).Infof("Listening on :%s (price per unit %s ether)", config.GetPort(), medchain.FormatEther(pricePerUnit))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.L(ctx).Infof("Received shutdown signal, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// balanceCheck aborts a purchase before paying when the connected account
// cannot cover the total cost
func balanceCheck(signer *evm.Signer) medchain.BeforePaymentHook {
	return func(pc medchain.PurchaseContext) (*medchain.BeforePaymentHookResult, error) {
		balance, err := signer.Balance(pc.Ctx)
		if err != nil {
			// the transfer itself will fail if funds are short
			log.L(pc.Ctx).Warnf("Could not read balance: %s", err)
			return nil, nil
		}
		if balance.Cmp(pc.TotalCost) < 0 {
			return &medchain.BeforePaymentHookResult{
				Abort:  true,
				Reason: fmt.Sprintf("balance %s ether is below the total cost %s ether", medchain.FormatEther(balance), medchain.FormatEther(pc.TotalCost)),
			}, nil
		}
		return nil, nil
	}
}
