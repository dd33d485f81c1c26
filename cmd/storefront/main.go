// storefront is a command-line client for the shop: account, cart, addresses,
// checkout and payment verification. Each command performs a single
// operation, making it composable for scripts.
//
// Commands:
//
//	storefront login -email E -password P
//	storefront register -name N -email E -password P [-phone P]
//	storefront logout
//	storefront whoami
//	storefront product -id ID
//	storefront cart [-watch 30s]
//	storefront addresses
//	storefront add-address -street S -city C -state S -zip Z -country C
//	storefront checkout [-product ID] -name N -phone P [-address N] -payment cod|online
//	storefront verify -order ID -payment-id ID -signature SIG
//	storefront orders
//
// Examples:
//
//	storefront login -email asha@example.com -password "$PW"
//	storefront checkout -name Asha -phone 9999999999 -payment online
//	ORDER=$(storefront checkout -product 65f1 -name Asha -phone 9999999999 -payment cod -q)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storefront/internal/address"
	"storefront/internal/api"
	"storefront/internal/cart"
	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/internal/session"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags (apply to all commands)
var (
	quiet   bool
	noColor bool
	verbose bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "login":
		runLogin(args)
	case "register":
		runRegister(args)
	case "logout":
		runLogout(args)
	case "whoami":
		runWhoami(args)
	case "product":
		runProduct(args)
	case "cart":
		runCart(args)
	case "addresses":
		runAddresses(args)
	case "add-address":
		runAddAddress(args)
	case "checkout":
		runCheckout(args)
	case "verify":
		runVerify(args)
	case "orders":
		runOrders(args)
	case "version":
		fmt.Println(version)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `storefront - shop checkout client

Usage:
  storefront <command> [options]

Commands:
  login        Log in and store the session
  register     Create an account and store the session
  logout       Forget the stored session
  whoami       Show the logged-in account
  product      Show a product
  cart         Show the server cart with totals
  addresses    List saved shipping addresses
  add-address  Save a new shipping address
  checkout     Place an order (cash on delivery or online)
  verify       Verify an online payment manually
  orders       Show order history

Configuration comes from CONFIG_FILE, a .env file or environment variables
(BACKEND_URL, TOKEN_STORE, TOKEN_PATH, HANDOFF_ADDR, ...).

Run 'storefront <command> -h' for command-specific options.
`)
}

// =============================================================================
// SETUP
// =============================================================================

// app bundles what every command needs.
type app struct {
	cfg    *config.Config
	client *api.Client
	logger *slog.Logger
}

// newFlagSet creates a command flag set with the global flags registered.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the essential value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - log backend requests")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: storefront %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// setup parses flags and builds the client from configuration.
func setup(fs *flag.FlagSet, args []string) *app {
	fs.Parse(args)
	if noColor {
		disableColors()
	}

	logger := initLogger()
	cfg, err := config.Load(context.Background())
	if err != nil {
		fatal("Failed to load config: %v", err)
	}

	apiCfg := cfg.APIConfig(cfg.TokenStore())
	apiCfg.Logger = logger
	client, err := api.New(apiCfg)
	if err != nil {
		fatal("Failed to create client: %v", err)
	}
	return &app{cfg: cfg, client: client, logger: logger}
}

// initLogger logs to stderr so stdout stays clean for -q output.
// Only warnings are shown unless -v is set.
func initLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose || os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// commandContext is cancelled on Ctrl-C.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// ACCOUNT COMMANDS
// =============================================================================

func runLogin(args []string) {
	fs := newFlagSet("login", "login -email E [-password P]")
	var email, password string
	fs.StringVar(&email, "email", "", "Account email (required)")
	fs.StringVar(&password, "password", os.Getenv("STOREFRONT_PASSWORD"), "Password (default $STOREFRONT_PASSWORD)")
	a := setup(fs, args)

	ctx, cancel := commandContext()
	defer cancel()

	if _, err := a.client.Login(ctx, model.Credentials{Email: email, Password: password}); err != nil {
		fatalErr("Login failed", err)
	}
	printSuccess("Logged in as %s", email)
}

func runRegister(args []string) {
	fs := newFlagSet("register", "register -name N -email E -password P [-phone P]")
	var reg model.Registration
	fs.StringVar(&reg.Name, "name", "", "Full name (required)")
	fs.StringVar(&reg.Email, "email", "", "Email (required)")
	fs.StringVar(&reg.Phone, "phone", "", "Phone number")
	fs.StringVar(&reg.Password, "password", os.Getenv("STOREFRONT_PASSWORD"), "Password (default $STOREFRONT_PASSWORD)")
	a := setup(fs, args)

	ctx, cancel := commandContext()
	defer cancel()

	if _, err := a.client.Register(ctx, reg); err != nil {
		fatalErr("Registration failed", err)
	}
	printSuccess("Account created for %s", reg.Email)
}

func runLogout(args []string) {
	fs := newFlagSet("logout", "logout")
	a := setup(fs, args)

	if err := a.client.Logout(context.Background()); err != nil {
		fatalErr("Logout failed", err)
	}
	printSuccess("Logged out")
}

func runWhoami(args []string) {
	fs := newFlagSet("whoami", "whoami")
	a := setup(fs, args)

	ctx, cancel := commandContext()
	defer cancel()

	user, err := a.client.Me(ctx)
	if err != nil {
		fatalErr("Not logged in", err)
	}
	if quiet {
		fmt.Println(user.Email)
		return
	}

	printSuccess("%s", user.Name)
	fmt.Printf("  Email: %s%s%s\n", colorCyan, user.Email, colorReset)
	if user.Phone != "" {
		fmt.Printf("  Phone: %s\n", user.Phone)
	}

	// Token claims are informational; the backend decides validity.
	token, _ := a.client.Store().Token(ctx)
	if info, err := session.Describe(token); err == nil && !info.ExpiresAt.IsZero() {
		fmt.Printf("  %sSession expires %s%s\n", colorGray, info.ExpiresAt.Local().Format(time.RFC1123), colorReset)
	}
}

// =============================================================================
// CATALOG & CART COMMANDS
// =============================================================================

func runProduct(args []string) {
	fs := newFlagSet("product", "product -id ID")
	var productID string
	fs.StringVar(&productID, "id", "", "Product ID (required)")
	a := setup(fs, args)

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := commandContext()
	defer cancel()

	p, err := a.client.GetProduct(ctx, productID)
	if err != nil {
		fatalErr("Failed to load product", err)
	}
	if quiet {
		fmt.Println(p.Name)
		return
	}

	fmt.Printf("%s%s%s\n", colorBold, p.Name, colorReset)
	fmt.Printf("  Price: %s", a.money(p.Price))
	if p.Discount > 0 {
		fmt.Printf("  %s(%s off)%s", colorGreen, a.money(p.Discount), colorReset)
	}
	fmt.Println()
	fmt.Printf("  Stock: %d\n", p.Stock)
}

func runCart(args []string) {
	fs := newFlagSet("cart", "cart [-watch DURATION]")
	var watch time.Duration
	fs.DurationVar(&watch, "watch", 0, "Re-check the cart at this interval and report changes")
	a := setup(fs, args)

	ctx, cancel := commandContext()
	defer cancel()

	resolver := cart.NewResolver(a.client, a.logger)
	res, _, err := resolver.Refresh(ctx, "")
	if err != nil {
		fatalErr("Failed to load cart", err)
	}
	a.printItems(res.Items)

	if watch <= 0 {
		return
	}
	printInfo("Watching for changes every %s (Ctrl-C to stop)", watch)
	ticker := time.NewTicker(watch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, diff, err := resolver.Refresh(ctx, "")
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			printError("%s", model.UserMessage(err))
			continue
		}
		if diff.IsEmpty() {
			continue
		}
		for _, item := range diff.Added {
			fmt.Printf("  %s+ %s x%d%s\n", colorGreen, item.Name, item.Quantity, colorReset)
		}
		for _, item := range diff.Removed {
			fmt.Printf("  %s- %s%s\n", colorRed, item.Name, colorReset)
		}
		for _, c := range diff.Changed {
			fmt.Printf("  %s~ %s: x%d → x%d, %s → %s%s\n", colorYellow, c.ProductRef,
				c.OldQuantity, c.NewQuantity, a.money(c.OldNet), a.money(c.NewNet), colorReset)
		}
		a.printItems(res.Items)
	}
}

// =============================================================================
// ADDRESS COMMANDS
// =============================================================================

func runAddresses(args []string) {
	fs := newFlagSet("addresses", "addresses")
	a := setup(fs, args)

	ctx, cancel := commandContext()
	defer cancel()

	mgr := address.NewManager(a.client, a.logger)
	addrs, err := mgr.List(ctx)
	if err != nil {
		fatalErr("Failed to load addresses", err)
	}
	if len(addrs) == 0 {
		printWarning("No saved addresses. Add one with 'storefront add-address'.")
		return
	}
	printAddresses(addrs, mgr.SelectedIndex())
}

func runAddAddress(args []string) {
	fs := newFlagSet("add-address", "add-address -street S -city C -state S -zip Z -country C")
	var draft model.AddressDraft
	fs.StringVar(&draft.Street, "street", "", "Street (required)")
	fs.StringVar(&draft.City, "city", "", "City (required)")
	fs.StringVar(&draft.State, "state", "", "State (required)")
	fs.StringVar(&draft.Zip, "zip", "", "Postal code (required)")
	fs.StringVar(&draft.Country, "country", "", "Country (required)")
	a := setup(fs, args)

	ctx, cancel := commandContext()
	defer cancel()

	saved, err := address.NewManager(a.client, a.logger).Add(ctx, draft)
	if err != nil {
		fatalErr("Failed to save address", err)
	}
	if quiet {
		fmt.Println(saved.ID)
		return
	}
	printSuccess("Address saved")
	fmt.Printf("  %s\n", saved)
}

// =============================================================================
// ORDER HISTORY
// =============================================================================

func runOrders(args []string) {
	fs := newFlagSet("orders", "orders")
	a := setup(fs, args)

	ctx, cancel := commandContext()
	defer cancel()

	orders, err := a.client.ListOrders(ctx)
	if err != nil {
		fatalErr("Failed to load orders", err)
	}
	orders = api.WithPaymentStatus(orders)

	if quiet {
		for _, o := range orders {
			fmt.Println(o.ID)
		}
		return
	}
	if len(orders) == 0 {
		printInfo("No orders yet")
		return
	}
	for _, o := range orders {
		statusColor := colorYellow
		if strings.EqualFold(o.Payment.Status, "paid") || strings.EqualFold(o.Payment.Status, "completed") {
			statusColor = colorGreen
		}
		fmt.Printf("%s%s%s  %s  %s%s/%s%s\n", colorCyan, o.ID, colorReset, a.money(o.TotalAmount),
			statusColor, o.Payment.Method, o.Payment.Status, colorReset)
		if verbose {
			printJSON(o)
		}
	}
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func (a *app) money(v float64) string {
	if a.cfg.Checkout.Currency == "INR" {
		return fmt.Sprintf("₹%.2f", v)
	}
	return fmt.Sprintf("%.2f %s", v, a.cfg.Checkout.Currency)
}

func (a *app) totals(items []model.LineItem) model.Totals {
	t := model.ComputeTotals(items, a.cfg.Checkout.FlatDiscount)
	if a.cfg.Checkout.ClampNegativeTotal {
		t = t.ClampTotal()
	}
	return t
}

func (a *app) printItems(items []model.LineItem) {
	if quiet {
		for _, item := range items {
			fmt.Printf("%s\t%d\n", item.ProductRef, item.Quantity)
		}
		return
	}
	for _, item := range items {
		fmt.Printf("  %s x%d  %s", item.Name, item.Quantity, a.money(model.NetUnitPrice(item)*float64(item.Quantity)))
		if item.UnitDiscount > 0 {
			fmt.Printf("  %s(was %s)%s", colorGray, a.money(item.UnitPrice*float64(item.Quantity)), colorReset)
		}
		fmt.Println()
	}
	a.printTotals(a.totals(items))
}

func (a *app) printTotals(t model.Totals) {
	fmt.Printf("  Subtotal: %s\n", a.money(t.Subtotal))
	if t.TotalSaved > 0 {
		fmt.Printf("  Saved:    %s-%s%s\n", colorGreen, a.money(t.TotalSaved), colorReset)
	}
	if t.FlatDiscount > 0 {
		fmt.Printf("  Discount: %s-%s%s\n", colorGreen, a.money(t.FlatDiscount), colorReset)
	}
	fmt.Printf("  %sTotal:    %s%s\n", colorBold, a.money(t.Total), colorReset)
}

func printAddresses(addrs []model.Address, selected int) {
	for i, addr := range addrs {
		marker := " "
		if i == selected {
			marker = colorGreen + "*" + colorReset
		}
		fmt.Printf(" %s %d. %s", marker, i+1, addr)
		if addr.IsDefault {
			fmt.Printf(" %s(default)%s", colorGray, colorReset)
		}
		fmt.Println()
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return
	}
	fmt.Printf("  %s%s%s\n", colorGray, data, colorReset)
}

func printSuccess(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
	}
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}

// fatalErr prints the user-facing message of err and exits. Missing fields
// of validation errors are listed; -v adds the full error chain.
func fatalErr(what string, err error) {
	var apiErr *model.APIError
	msg := model.UserMessage(err)
	if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
		msg += " (" + strings.Join(apiErr.Fields, ", ") + ")"
	}
	if errors.Is(err, model.ErrUnauthenticated) {
		msg += ". Run 'storefront login' first"
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "%s%v%s\n", colorGray, err, colorReset)
	}
	fatal("%s: %s", what, msg)
}
