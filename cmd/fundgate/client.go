package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/layer-3/fundgate/client"
	"github.com/layer-3/fundgate/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var clientFlags struct {
	bridge     string
	cookieName string
	cookie     string
	key        string
	chainID    int64
	domain     string
	enforce    bool
	expiresIn  time.Duration
}

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in to a bridge with a local private key",
	Long: `Runs the nonce, sign, login sequence against a bridge and prints the
resulting session together with the session cookie value.

The private key is read from --key or FUNDGATE_WALLET_KEY.`,
	RunE: runSignIn,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the session a cookie resolves to",
	RunE:  runSession,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session held by a cookie",
	RunE:  runLogout,
}

func init() {
	for _, cmd := range []*cobra.Command{signinCmd, sessionCmd, logoutCmd} {
		cmd.Flags().StringVar(&clientFlags.bridge, "bridge", "http://localhost:9000", "bridge base URL")
		cmd.Flags().StringVar(&clientFlags.cookieName, "cookie-name", client.DefaultCookieName, "session cookie name")
		rootCmd.AddCommand(cmd)
	}

	sessionCmd.Flags().StringVar(&clientFlags.cookie, "cookie", "", "session cookie value")
	logoutCmd.Flags().StringVar(&clientFlags.cookie, "cookie", "", "session cookie value")

	signinCmd.Flags().StringVar(&clientFlags.key, "key", "", "hex private key (default $FUNDGATE_WALLET_KEY)")
	signinCmd.Flags().Int64Var(&clientFlags.chainID, "chain-id", client.DefaultChains[0], "chain id to sign in on")
	signinCmd.Flags().StringVar(&clientFlags.domain, "domain", "", "SIWE domain (default bridge host)")
	signinCmd.Flags().BoolVar(&clientFlags.enforce, "enforce-address-match", true, "drop the session when the wallet account changes")
	signinCmd.Flags().DurationVar(&clientFlags.expiresIn, "expires-in", 0, "SIWE message lifetime, 0 for none")
}

func newAPIClient() (*client.APIClient, error) {
	api, err := client.NewAPIClient(clientFlags.bridge, client.WithCookieName(clientFlags.cookieName))
	if err != nil {
		return nil, err
	}
	if clientFlags.cookie != "" {
		api.SetSessionCookie(clientFlags.cookie)
	}
	return api, nil
}

func cliLogger() (*zap.Logger, error) {
	level := logLevel
	if level == "" {
		level = "warn"
	}
	return logging.New(level, true)
}

func runSignIn(cmd *cobra.Command, _ []string) error {
	logger, err := cliLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	keyHex := clientFlags.key
	if keyHex == "" {
		keyHex = os.Getenv("FUNDGATE_WALLET_KEY")
	}
	if keyHex == "" {
		return fmt.Errorf("a private key is required (--key or FUNDGATE_WALLET_KEY)")
	}
	wallet, err := client.NewKeySignerFromHex(keyHex)
	if err != nil {
		return err
	}

	api, err := newAPIClient()
	if err != nil {
		return err
	}
	bridgeURL, err := url.Parse(clientFlags.bridge)
	if err != nil {
		return fmt.Errorf("invalid bridge url: %w", err)
	}
	domain := clientFlags.domain
	if domain == "" {
		domain = bridgeURL.Host
	}

	queue := client.NewLogoutQueue(api.Logout, client.DefaultQueueConfig(), logger)
	defer queue.Close()
	reconciler := client.NewReconciler(nil, queue, nil, client.Config{EnforceAddressMatch: clientFlags.enforce}, logger)

	flow := client.NewSignIn(api, wallet, reconciler, client.SignInConfig{
		Domain:    domain,
		URI:       bridgeURL.Scheme + "://" + bridgeURL.Host,
		ExpiresIn: clientFlags.expiresIn,
	}, logger)

	state := client.WalletState{Connected: true, Address: wallet.Address(), ChainID: clientFlags.chainID}
	if !flow.Supported(state.ChainID) {
		return fmt.Errorf("unsupported chain id %d", state.ChainID)
	}

	session, err := flow.Run(cmd.Context(), state)
	if err != nil {
		return err
	}

	return printJSON(cmd, map[string]any{
		"address": session.Address,
		"role":    session.Role,
		"cookie":  api.SessionCookie(),
	})
}

func runSession(cmd *cobra.Command, _ []string) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}
	status, err := api.Session(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, status)
}

func runLogout(cmd *cobra.Command, _ []string) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}
	if err := api.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "logged out")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
