package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"steamguard/internal/account"
	"steamguard/internal/guard"
	"steamguard/internal/steamapi"
	"steamguard/internal/storage"
	"steamguard/internal/vault"
)

const usage = `Usage: steamguard [flags] <command> [args]

Commands:
  code <account>                 Print the current Guard code
  list                           List stored accounts
  login <account> <password>     Log in and store fresh session tokens
  enroll <account> <password>    Attach a new authenticator to an account
  confirmations <account>        List pending trade/market confirmations
  accept <account> <id|all>      Accept confirmations
  deny <account> <id|all>        Deny confirmations
  remove <account>               Remove a stored account (prints revocation code)
  import <dir>                   Import .maFile or SDA folder into the store
  export <dir>                   Export the store as an SDA-compatible folder
  vault-save <file>              Pack all accounts into an encrypted vault file
  vault-load <file>              Unpack a vault file into the store

Flags:
  -dir      store directory (default $STEAMGUARD_DIR or ~/.steamguard)
  -passkey  encryption passkey for import/export/vault commands
`

func main() {
	godotenv.Load()

	dirFlag := flag.String("dir", "", "account store directory")
	passkey := flag.String("passkey", "", "encryption passkey")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	dir := *dirFlag
	if dir == "" {
		dir = os.Getenv("STEAMGUARD_DIR")
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fail(err)
		}
		dir = filepath.Join(home, ".steamguard")
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	app := &app{
		store:     storage.NewStore(dir),
		transport: steamapi.NewTransport(),
		passkey:   *passkey,
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "code":
		err = app.code(rest)
	case "list":
		err = app.list()
	case "login":
		err = app.login(rest)
	case "enroll":
		err = app.enroll(rest)
	case "confirmations":
		err = app.confirmations(rest)
	case "accept":
		err = app.respond(rest, true)
	case "deny":
		err = app.respond(rest, false)
	case "remove":
		err = app.remove(rest)
	case "import":
		err = app.importFolder(rest)
	case "export":
		err = app.exportFolder(rest)
	case "vault-save":
		err = app.vaultSave(rest)
	case "vault-load":
		err = app.vaultLoad(rest)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

type app struct {
	store     *storage.Store
	transport *steamapi.Transport
	passkey   string
}

func (a *app) account(query string) (*account.Account, error) {
	return a.store.Find(query)
}

func (a *app) code(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: code <account>")
	}
	acct, err := a.account(args[0])
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	fmt.Printf("%s (valid for %ds)\n", guard.GenerateCode(acct.SharedSecret, now), guard.SecondsUntilNextCode(now))
	return nil
}

func (a *app) list() error {
	accounts, errs := a.store.Scan()
	for _, err := range errs {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}
	if len(accounts) == 0 {
		fmt.Println("No accounts stored.")
		return nil
	}
	for _, acct := range accounts {
		line := fmt.Sprintf("%s  %s", acct.AccountName, acct.SteamID)
		if acct.DisplayName != "" {
			line += "  (" + acct.DisplayName + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func (a *app) login(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: login <account> <password>")
	}
	acct, err := a.account(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	session := steamapi.NewLoginSession(a.transport)
	codeFn := func(ctx context.Context) (string, error) {
		return guard.GenerateCode(acct.SharedSecret, time.Now().Unix()), nil
	}
	result, err := session.Login(ctx, acct.AccountName, args[1], codeFn)
	if err != nil {
		return err
	}
	acct.SetTokens(result.AccessToken, result.RefreshToken, time.Now())
	if acct.SteamID == 0 {
		acct.SteamID = account.SteamID(result.SteamID)
	}
	a.enrich(ctx, acct)
	if _, err := a.store.Save(acct); err != nil {
		return err
	}
	fmt.Println("Logged in, session tokens stored.")
	return nil
}

// enrich fills profile fields from the public Web API when a key is set.
// Best effort only.
func (a *app) enrich(ctx context.Context, acct *account.Account) {
	apiKey := os.Getenv("STEAM_WEB_API_KEY")
	if apiKey == "" {
		return
	}
	client := steamapi.NewWebAPIClient(apiKey)
	if err := client.Enrich(ctx, acct); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: profile lookup failed:", err)
	}
}

func (a *app) enroll(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: enroll <account> <password>")
	}

	prompt := func(ctx context.Context, phoneHint string, confirmType int) (string, error) {
		switch confirmType {
		case 1:
			fmt.Printf("Enter the SMS code sent to %s: ", phoneHint)
		case 3:
			fmt.Print("Enter the code from the confirmation email: ")
		default:
			fmt.Print("Enter the verification code: ")
		}
		return readLine()
	}

	acct, err := steamapi.LinkAccount(context.Background(), a.transport, args[0], args[1], prompt)
	if err != nil {
		return err
	}
	path, err := a.store.Save(acct)
	if err != nil {
		// The secrets are irreplaceable once issued. Losing them locks
		// the account, so dump them before reporting the failure.
		fmt.Fprintf(os.Stderr, "WRITE THIS DOWN  revocation code: %s\n", acct.RevocationCode)
		return err
	}
	fmt.Printf("Authenticator enrolled, account saved to %s\n", path)
	fmt.Printf("Revocation code: %s (write it down)\n", acct.RevocationCode)
	return nil
}

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) engine() *steamapi.ConfirmationEngine {
	save := func(acct *account.Account) error {
		_, err := a.store.Save(acct)
		return err
	}
	return steamapi.NewConfirmationEngine(a.transport, steamapi.NewLoginSession(a.transport), save)
}

func (a *app) confirmations(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: confirmations <account>")
	}
	acct, err := a.account(args[0])
	if err != nil {
		return err
	}
	list, err := a.engine().List(context.Background(), acct)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No pending confirmations.")
		return nil
	}
	for _, conf := range list {
		fmt.Printf("%s  [%s] %s", conf.ID, conf.TypeName(), conf.Title)
		if conf.Description != "" {
			fmt.Printf(" - %s", conf.Description)
		}
		fmt.Println()
	}
	return nil
}

func (a *app) respond(args []string, accept bool) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: accept|deny <account> <id|all>")
	}
	acct, err := a.account(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	engine := a.engine()

	list, err := engine.List(ctx, acct)
	if err != nil {
		return err
	}
	if args[1] == "all" {
		if err := engine.RespondAll(ctx, acct, list, accept); err != nil {
			return err
		}
		fmt.Printf("Processed %d confirmation(s).\n", len(list))
		return nil
	}
	for _, conf := range list {
		if conf.ID == args[1] {
			if err := engine.Respond(ctx, acct, conf, accept); err != nil {
				return err
			}
			fmt.Println("Done.")
			return nil
		}
	}
	return fmt.Errorf("no pending confirmation with id %s", args[1])
}

func (a *app) remove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: remove <account>")
	}
	acct, err := a.account(args[0])
	if err != nil {
		return err
	}
	if acct.RevocationCode != "" {
		fmt.Printf("Revocation code: %s (needed to detach the authenticator from Steam)\n", acct.RevocationCode)
	}
	if err := a.store.Delete(acct); err != nil {
		return err
	}
	fmt.Println("Account removed from local store.")
	return nil
}

func (a *app) importFolder(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: import <dir>")
	}
	imported, errs := a.store.ImportFolder(args[0], a.passkey)
	for _, err := range errs {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}
	fmt.Printf("Imported %d account(s).\n", len(imported))
	if len(imported) == 0 && len(errs) > 0 {
		return fmt.Errorf("nothing imported")
	}
	return nil
}

func (a *app) exportFolder(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: export <dir>")
	}
	if err := a.store.ExportFolder(args[0], a.passkey); err != nil {
		return err
	}
	fmt.Printf("Exported store to %s\n", args[0])
	return nil
}

func (a *app) vaultSave(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vault-save <file>")
	}
	accounts, errs := a.store.Scan()
	if len(errs) > 0 {
		return fmt.Errorf("store has unreadable accounts: %v", errs[0])
	}
	if err := vault.OpenLocal(args[0]).Save(accounts, a.passkey); err != nil {
		return err
	}
	fmt.Printf("Saved %d account(s) to %s\n", len(accounts), args[0])
	return nil
}

func (a *app) vaultLoad(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vault-load <file>")
	}
	accounts, err := vault.OpenLocal(args[0]).Load(a.passkey)
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		if _, err := a.store.Save(acct); err != nil {
			return err
		}
	}
	fmt.Printf("Loaded %d account(s) into the store.\n", len(accounts))
	return nil
}
