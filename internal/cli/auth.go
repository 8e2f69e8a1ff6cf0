package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/cleanup"
)

// LoginOptions holds flags for the login and switch-account commands.
type LoginOptions struct {
	*RootOptions
	RefreshToken string
	AccountID    string
}

func addLoginFlags(cmd *cobra.Command, opts *LoginOptions) {
	cmd.Flags().StringVar(&opts.RefreshToken, "refresh-token", "", "refresh token to store with the access token")
	cmd.Flags().StringVar(&opts.AccountID, "account", "", "account id (taken from the token's subject when it is a JWT)")
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login <access-token>",
		Short: "Store the access token used for syncing",
		Long: `Store the access token sync cycles authenticate with. Opaque tokens are
accepted as is; a JWT is additionally checked for expiry before every cycle.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(opts, cmd, args[0])
		},
	}
	addLoginFlags(cmd, opts)

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Erase all local data and credentials",
		Long: `Erase every local record, queued mutation, pull cursor, held conflict
and credential, the device id included. Unsynced changes are lost.

Every step runs even if an earlier one fails; failed steps are listed and
the command exits non-zero.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(rootOpts, cmd)
		},
	}

	return cmd
}

// NewSwitchAccountCommand creates the switch-account command.
func NewSwitchAccountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "switch-account <access-token>",
		Short: "Erase the current account's data and log in as another",
		Long: `Erase the local data and credentials of the current account, keeping
the device id, then store the new account's access token.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwitchAccount(opts, cmd, args[0])
		},
	}
	addLoginFlags(cmd, opts)

	return cmd
}

// loginView reports the stored credentials without the secrets.
type loginView struct {
	AccountID string `json:"account_id,omitempty"`
	DeviceID  string `json:"device_id"`
}

func (v loginView) String() string {
	return fmt.Sprintf("logged in as %s on device %s", orDash(v.AccountID), v.DeviceID)
}

func runLogin(opts *LoginOptions, cmd *cobra.Command, token string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	return storeLogin(a, opts, cmd, formatter, token)
}

func storeLogin(a *app, opts *LoginOptions, cmd *cobra.Command, formatter *OutputFormatter, token string) error {
	ctx := commandContext(cmd)
	if err := a.keyring.Set(ctx, token, opts.RefreshToken, opts.AccountID); err != nil {
		return formatter.Fail("login", err)
	}
	creds, err := a.keyring.Load(ctx)
	if err != nil {
		return formatter.Fail("login", err)
	}
	return formatter.Success(loginView{AccountID: creds.AccountID, DeviceID: creds.DeviceID})
}

func runSwitchAccount(opts *LoginOptions, cmd *cobra.Command, token string) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	rep := cleanup.New(a.store, a.keyring).PerformAccountSwitchCleanup(commandContext(cmd))
	if err := rep.Err(); err != nil {
		_ = formatter.Error(ErrCodeCleanup, "account switch cleanup failed", newCleanupView(rep))
		return WrapExitError(ExitFailure, ErrCodeCleanup+": account switch cleanup failed", err)
	}
	formatter.VerboseLog("%s", newCleanupView(rep))

	return storeLogin(a, opts, cmd, formatter, token)
}

func runLogout(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts, formatter)
	if err != nil {
		return err
	}
	defer a.Close()

	rep := cleanup.New(a.store, a.keyring).PerformLogoutCleanup(commandContext(cmd))
	v := newCleanupView(rep)
	if err := rep.Err(); err != nil {
		_ = formatter.Error(ErrCodeCleanup, "logout cleanup failed", v)
		return WrapExitError(ExitFailure, ErrCodeCleanup+": logout cleanup failed", err)
	}
	return formatter.Success(v)
}
