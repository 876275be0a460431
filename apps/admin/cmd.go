package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	migrate   func(command string, args ...string) error
	users     *user.Service
	purchases *purchase.Service
	notifier  core.Notifier
	validate  *validator.Validate
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                      - run a goose migration command (up, down, status, ...)")
	_, _ = fmt.Fprintln(cli.out, "  adduser -email EMAIL [-name NAME] [-admin]  - create or update an active user; the password is prompted")
	_, _ = fmt.Fprintln(cli.out, "  linkpurchases -email EMAIL                  - attach the purchases made with EMAIL to its user")
	_, _ = fmt.Fprintln(cli.out, "  shipkit -id ID -tracking NUMBER             - mark a kit order shipped and notify the buyer")
	_, _ = fmt.Fprintln(cli.out, "  deliverkit -id ID                           - mark a kit order delivered")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2], args[3:]...)

	case "adduser":
		cmd := cli.newFlagSet("adduser")
		email := cmd.String("email", "", "The user's email. The password will be prompted next.")
		name := cmd.String("name", "", "The user's name (defaults to the email).")
		isAdmin := cmd.Bool("admin", false, "Grant the admin role.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *email == "" {
			cmd.Usage()
			return errHelp
		}
		_, _ = fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		_, _ = fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			cmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *name, *email, string(pwd), *isAdmin)

	case "linkpurchases":
		cmd := cli.newFlagSet("linkpurchases")
		email := cmd.String("email", "", "The user's email.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *email == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.linkPurchases(ctx, *email)

	case "shipkit":
		cmd := cli.newFlagSet("shipkit")
		id := cmd.String("id", "", "The kit order ID.")
		tracking := cmd.String("tracking", "", "The carrier tracking number.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *id == "" || *tracking == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.shipKit(ctx, *id, *tracking)

	case "deliverkit":
		cmd := cli.newFlagSet("deliverkit")
		id := cmd.String("id", "", "The kit order ID.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *id == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.deliverKit(ctx, *id)

	default:
		cli.printUsage()
		return errHelp
	}
}

// addUser updates or creates a user. The password goes through the signup policy.
func (cli *commandLine) addUser(ctx context.Context, name, email, pwd string, isAdmin bool) error {
	nu := user.NewUser{Name: name, Email: email, Password: pwd, PasswordConfirm: pwd}
	if core.CleanString(nu.Name) == "" {
		nu.Name = email
	}
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.NormalizeEmail(nu.Email)
	if err := cli.validate.Struct(nu); err != nil {
		return err
	}

	usr, err := cli.users.AddUser(ctx, name, email, pwd, isAdmin)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "user %s (%s) saved, roles: %v\n", usr.Email, usr.ID, usr.Roles)
	return nil
}

func (cli *commandLine) linkPurchases(ctx context.Context, email string) error {
	usr, err := cli.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	res, err := cli.users.LinkPurchases(ctx, usr)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "linked %d purchase(s) and %d kit order(s) to %s\n", res.Purchases, res.KitOrders, usr.Email)
	return nil
}

func (cli *commandLine) shipKit(ctx context.Context, id, tracking string) error {
	order, err := cli.purchases.ShipKitOrder(ctx, id, tracking)
	if err != nil {
		return err
	}
	out := cli.notifier.Notify(ctx, order.ShippedNotification())
	_, _ = fmt.Fprintf(cli.out, "kit order %s shipped (tracking %s), buyer notified: %t\n", order.ID, order.TrackingNumber, out.Sent)
	return nil
}

func (cli *commandLine) deliverKit(ctx context.Context, id string) error {
	order, err := cli.purchases.DeliverKitOrder(ctx, id)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "kit order %s delivered\n", order.ID)
	return nil
}
