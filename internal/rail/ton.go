package rail

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/fairlance/backend/internal/config"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// TONRail sends real transfers from the hot wallet over the TON network.
type TONRail struct {
	api ton.APIClientWrapped
	w   *wallet.Wallet
	log *zap.Logger
}

func NewTONRail(ctx context.Context, cfg *config.Config, log *zap.Logger) (*TONRail, error) {
	if cfg.TONHotWalletSeed == "" {
		return nil, fmt.Errorf("TON_HOT_WALLET_SEED is required for the TON rail")
	}

	api, err := ConnectToTON(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	seed := strings.Fields(cfg.TONHotWalletSeed)
	w, err := wallet.FromSeed(api, seed, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("init hot wallet from seed: %w", err)
	}

	log.Info("TON rail ready", zap.String("hot_wallet", w.WalletAddress().String()))
	return &TONRail{api: api, w: w, log: log}, nil
}

func (r *TONRail) Send(ctx context.Context, to string, amount *big.Int, comment string) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("ton rail: amount must be positive")
	}
	dst, err := address.ParseAddr(to)
	if err != nil {
		return "", fmt.Errorf("parse destination %q: %w", to, err)
	}

	body, err := wallet.CreateCommentCell(comment)
	if err != nil {
		return "", fmt.Errorf("build comment: %w", err)
	}

	msg := wallet.SimpleMessage(dst, tlb.FromNanoTON(amount), body)
	tx, _, err := r.w.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}

	ref := hex.EncodeToString(tx.Hash)
	r.log.Info("transfer sent",
		zap.String("to", dst.String()),
		zap.String("amount_nano", amount.String()),
		zap.String("tx_hash", ref),
	)
	return ref, nil
}

// ConnectToTON establishes a connection to the TON network. With
// LITE_SERVER_HOST and LITE_SERVER_KEY set it connects to that lite server;
// otherwise it auto-discovers lite servers from the global config for
// TON_NETWORK.
func ConnectToTON(ctx context.Context, cfg *config.Config, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		var configURL string
		switch strings.ToLower(cfg.TONNetwork) {
		case "mainnet":
			configURL = "https://ton.org/global.config.json"
		default:
			configURL = "https://ton.org/testnet-global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.TONNetwork))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(cfg.TONNetwork) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	return ton.NewAPIClient(client, proofPolicy).WithRetry(), nil
}
